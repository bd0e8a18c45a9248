package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Url           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// NATSPublisher publishes session events as JSON on
// "<prefix>.<event type>", e.g. "cookiejar.session.replaced".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(cfg Config, opts ...nats.Option) (*NATSPublisher, error) {
	if cfg.Url == "" {
		return nil, errors.New("nats url is required")
	}
	opts = append([]nats.Option{
		nats.Name("cookie-jar"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}, opts...)

	nc, err := nats.Connect(cfg.Url, opts...)
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "cookiejar"
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, ev SessionEvent) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(ev.Type), data)
}

// Close drains pending messages before closing the connection.
func (p *NATSPublisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
