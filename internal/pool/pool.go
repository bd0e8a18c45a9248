// Package pool hands out harvested cookie sessions to scraper workers under
// an exclusive lease, tracks their health, and replaces them when they go
// stale. All state lives in a sessions.Store; the pool itself holds none.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/cookie-jar/internal/events"
	"github.com/EternisAI/cookie-jar/internal/harvest"
	"github.com/EternisAI/cookie-jar/internal/metrics"
	"github.com/EternisAI/cookie-jar/internal/sessions"
)

// ErrNotAvailable means no eligible session existed and a fresh one could
// not be harvested.
var ErrNotAvailable = errors.New("no session available")

const DefaultMaxAge = 24 * time.Hour

type Config struct {
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	MaxAge            time.Duration `mapstructure:"max_age"`
}

type Option func(*Pool)

// WithClock replaces the wall clock. Times are expected in UTC.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func WithPublisher(pub events.Publisher) Option {
	return func(p *Pool) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

type Pool struct {
	store     sessions.Store
	harvester harvest.Harvester
	cfg       Config
	now       func() time.Time
	metrics   *metrics.Metrics
	publisher events.Publisher
}

func New(store sessions.Store, harvester harvest.Harvester, cfg Config, opts ...Option) *Pool {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = sessions.MaxFailedAttempts
	}
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	p := &Pool{
		store:     store,
		harvester: harvester,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) horizon() sessions.Horizon {
	return sessions.Horizon{Now: p.now(), MaxAge: p.cfg.MaxAge}
}

// Acquire leases the preferred eligible session for site. When none is
// eligible a new session is harvested and returned already leased.
// Losing a lease race to another caller just re-runs selection.
func (p *Pool) Acquire(ctx context.Context, site string) (*sessions.Lease, error) {
	site = sessions.NormalizeSite(site)
	if err := sessions.ValidateSite(site); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate, err := p.store.Candidate(ctx, site, p.horizon())
		if errors.Is(err, sessions.ErrNotFound) {
			break
		}
		if err != nil {
			p.metrics.Acquire(site, metrics.ResultError)
			return nil, err
		}

		leased, ok, err := p.store.MarkLeased(ctx, candidate.ID, p.horizon())
		if err != nil {
			p.metrics.Acquire(site, metrics.ResultError)
			return nil, err
		}
		if !ok {
			p.metrics.LeaseRace()
			slog.Debug("Lost lease race, selecting again", "site", site, "session_id", candidate.ID)
			continue
		}

		p.metrics.Acquire(site, metrics.ResultReused)
		slog.Debug("Session leased", "site", site, "session_id", leased.ID, "usage_count", leased.UsageCount)
		return leased.Lease(), nil
	}

	return p.acquireFresh(ctx, site)
}

func (p *Pool) acquireFresh(ctx context.Context, site string) (*sessions.Lease, error) {
	cookies, err := p.harvest(ctx, site)
	if err != nil {
		p.metrics.Acquire(site, metrics.ResultNotAvailable)
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAvailable, site, err)
	}

	s := p.newSession(site, cookies)
	s.Leased = true
	s.UsageCount = 1
	leasedAt := s.CreatedAt
	s.LastUsedAt = &leasedAt

	if err := p.store.Insert(ctx, s); err != nil {
		p.metrics.Acquire(site, metrics.ResultError)
		return nil, err
	}

	p.metrics.Acquire(site, metrics.ResultHarvested)
	p.publish(ctx, events.SessionCreated, s, "")
	slog.Info("Harvested new session", "site", site, "session_id", s.ID, "expires_at", s.ExpiresAt)
	return s.Lease(), nil
}

// Release ends the lease on id and records the outcome. It returns
// sessions.ErrNotFound when the session was swept or purged meanwhile.
func (p *Pool) Release(ctx context.Context, id string, outcome sessions.Outcome) error {
	if outcome != sessions.OutcomeSuccess && outcome != sessions.OutcomeFailure {
		return fmt.Errorf("invalid outcome %d", outcome)
	}

	s, err := p.store.Release(ctx, id, outcome, p.now(), p.cfg.MaxFailedAttempts)
	if err != nil {
		return err
	}
	p.metrics.Release(s.Site, outcome.String())

	if outcome == sessions.OutcomeFailure && s.FailedAttempts == p.cfg.MaxFailedAttempts {
		p.metrics.Quarantined(s.Site)
		p.publish(ctx, events.SessionQuarantined, s, "")
		slog.Warn("Session quarantined", "site", s.Site, "session_id", s.ID, "failed_attempts", s.FailedAttempts)
	}
	return nil
}

// Sweep replaces every unhealthy or expired session of site, or of all
// sites when site is empty, with a freshly harvested one. Harvest failures
// are logged and skipped. It returns how many sessions were replaced.
func (p *Pool) Sweep(ctx context.Context, site string) (int, error) {
	if site != "" {
		site = sessions.NormalizeSite(site)
		if err := sessions.ValidateSite(site); err != nil {
			return 0, err
		}
	}

	stale, err := p.store.ListStale(ctx, site, p.horizon())
	if err != nil {
		return 0, err
	}

	replaced, failed := 0, 0
	for _, old := range stale {
		if err := ctx.Err(); err != nil {
			return replaced, err
		}

		if err := p.store.Delete(ctx, old.ID); err != nil {
			if errors.Is(err, sessions.ErrNotFound) {
				continue
			}
			return replaced, err
		}

		cookies, err := p.harvest(ctx, old.Site)
		if err != nil {
			failed++
			slog.Warn("Sweep could not replace session", "site", old.Site, "session_id", old.ID, "error", err)
			continue
		}

		fresh := p.newSession(old.Site, cookies)
		if err := p.store.Insert(ctx, fresh); err != nil {
			return replaced, err
		}
		replaced++
		p.metrics.Replaced(old.Site)
		p.publish(ctx, events.SessionReplaced, old, fresh.ID)
	}

	if len(stale) > 0 {
		slog.Info("Sweep finished", "site", site, "stale", len(stale), "replaced", replaced, "failed", failed)
	}
	return replaced, nil
}

// Purge deletes unhealthy or expired sessions without replacing them.
// Leased sessions are left alone until released.
func (p *Pool) Purge(ctx context.Context) (int, error) {
	removed, err := p.store.PurgeStale(ctx, p.horizon())
	if err != nil {
		return 0, err
	}
	for _, s := range removed {
		p.metrics.Purged(s.Site)
		p.publish(ctx, events.SessionPurged, s, "")
	}
	if len(removed) > 0 {
		slog.Info("Purged stale sessions", "removed", len(removed))
	}
	return len(removed), nil
}

func (p *Pool) Stats(ctx context.Context, site string) (sessions.Stats, error) {
	site = sessions.NormalizeSite(site)
	if err := sessions.ValidateSite(site); err != nil {
		return sessions.Stats{}, err
	}
	list, err := p.store.List(ctx, site)
	if err != nil {
		return sessions.Stats{}, err
	}
	return sessions.BuildStats(site, list, p.horizon()), nil
}

// StatsAll returns stats for every site that has sessions, ordered by site.
func (p *Pool) StatsAll(ctx context.Context) ([]sessions.Stats, error) {
	sites, err := p.store.Sites(ctx)
	if err != nil {
		return nil, err
	}

	h := p.horizon()
	result := make([]sessions.Stats, 0, len(sites))
	for _, site := range sites {
		list, err := p.store.List(ctx, site)
		if err != nil {
			return nil, err
		}
		result = append(result, sessions.BuildStats(site, list, h))
	}
	return result, nil
}

// Warm harvests n unleased sessions for site ahead of traffic. Individual
// harvest failures are skipped; ErrNotAvailable is returned only when
// nothing could be harvested at all.
func (p *Pool) Warm(ctx context.Context, site string, n int) (int, error) {
	site = sessions.NormalizeSite(site)
	if err := sessions.ValidateSite(site); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}

	var lastErr error
	inserted := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		cookies, err := p.harvest(ctx, site)
		if err != nil {
			lastErr = err
			continue
		}
		s := p.newSession(site, cookies)
		if err := p.store.Insert(ctx, s); err != nil {
			return inserted, err
		}
		inserted++
		p.publish(ctx, events.SessionCreated, s, "")
	}

	if inserted == 0 {
		return 0, fmt.Errorf("%w: %s: %w", ErrNotAvailable, site, lastErr)
	}
	slog.Info("Warmed site", "site", site, "requested", n, "inserted", inserted)
	return inserted, nil
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

func (p *Pool) harvest(ctx context.Context, site string) ([]sessions.Cookie, error) {
	start := time.Now()
	cookies, err := p.harvester.Harvest(ctx, site)
	if err == nil && len(cookies) == 0 {
		err = harvest.ErrEmptyHarvest
	}
	p.metrics.Harvest(site, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// newSession builds an unleased, healthy, never used session.
func (p *Pool) newSession(site string, cookies []sessions.Cookie) *sessions.Session {
	return &sessions.Session{
		ID:        uuid.NewString(),
		Site:      site,
		Cookies:   cookies,
		CreatedAt: p.now(),
		ExpiresAt: harvest.Expiry(cookies),
		Health:    sessions.HealthHealthy,
	}
}

func (p *Pool) publish(ctx context.Context, typ string, s *sessions.Session, replacedBy string) {
	ev := events.SessionEvent{
		Type:         typ,
		SessionID:    s.ID,
		Site:         s.Site,
		ReplacedByID: replacedBy,
		At:           p.now(),
	}
	if err := p.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish session event", "type", typ, "session_id", s.ID, "error", err)
	}
}
