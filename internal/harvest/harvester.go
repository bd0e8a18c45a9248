// Package harvest defines how fresh cookie sets are minted for a site. The
// browser automation that actually does the minting lives outside this
// service; the pool only sees the Harvester interface.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/EternisAI/cookie-jar/internal/sessions"
)

var (
	ErrUnsupportedSite = errors.New("site not supported by harvester")
	ErrEmptyHarvest    = errors.New("harvest returned no cookies")
)

type Harvester interface {
	Harvest(ctx context.Context, site string) ([]sessions.Cookie, error)
}

// Func adapts a plain function to the Harvester interface.
type Func func(ctx context.Context, site string) ([]sessions.Cookie, error)

func (f Func) Harvest(ctx context.Context, site string) ([]sessions.Cookie, error) {
	return f(ctx, site)
}

// Expiry returns the earliest expiry across cookies, or nil when every
// cookie is a session cookie.
func Expiry(cookies []sessions.Cookie) *time.Time {
	var earliest *time.Time
	for _, c := range cookies {
		t := c.ExpiresAt()
		if t == nil {
			continue
		}
		if earliest == nil || t.Before(*earliest) {
			earliest = t
		}
	}
	return earliest
}

type allowlist struct {
	next  Harvester
	sites map[string]struct{}
}

// NewAllowlist restricts next to the given sites. An empty list allows all.
func NewAllowlist(next Harvester, sites []string) Harvester {
	if len(sites) == 0 {
		return next
	}
	a := &allowlist{next: next, sites: make(map[string]struct{}, len(sites))}
	for _, s := range sites {
		if s = sessions.NormalizeSite(s); s != "" {
			a.sites[s] = struct{}{}
		}
	}
	return a
}

func (a *allowlist) Harvest(ctx context.Context, site string) ([]sessions.Cookie, error) {
	if _, ok := a.sites[site]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, site)
	}
	return a.next.Harvest(ctx, site)
}

// Logged wraps h with timing and failure logs.
func Logged(h Harvester) Harvester {
	return Func(func(ctx context.Context, site string) ([]sessions.Cookie, error) {
		start := time.Now()
		cookies, err := h.Harvest(ctx, site)
		if err != nil {
			slog.Warn("Harvest failed", "site", site, "duration", time.Since(start), "error", err)
			return nil, err
		}
		names := make([]string, 0, len(cookies))
		for _, c := range cookies {
			names = append(names, c.Name)
		}
		slog.Info("Harvested cookies", "site", site, "count", len(cookies), "duration", time.Since(start))
		slog.Debug("Harvested cookie names", "site", site, "names", strings.Join(names, ","))
		return cookies, nil
	})
}
