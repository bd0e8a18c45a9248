package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/EternisAI/cookie-jar/internal/sessions"
)

// MaxAttempts bounds how many sessions WithLease tries before giving up.
const MaxAttempts = 2

// ErrRejected signals that the target site refused the leased cookies,
// typically with HTTP 401 or 403. WithLease retries with a fresh session.
var ErrRejected = errors.New("session rejected by site")

type Leaser interface {
	Acquire(ctx context.Context, site string) (*sessions.Lease, error)
	Release(ctx context.Context, id string, outcome sessions.Outcome) error
}

// CheckStatus turns a site's 401/403 answer into ErrRejected.
func CheckStatus(status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrRejected, status)
	}
	return nil
}

// WithLease acquires a session for site, runs fn with it and releases it
// with the matching outcome. Any error from fn counts as a failure. When fn
// returns ErrRejected a fresh session is tried, up to MaxAttempts in total.
func WithLease(ctx context.Context, l Leaser, site string, fn func(ctx context.Context, lease *sessions.Lease) error) error {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		lease, err := l.Acquire(ctx, site)
		if err != nil {
			return err
		}

		err = fn(ctx, lease)
		outcome := sessions.OutcomeSuccess
		if err != nil {
			outcome = sessions.OutcomeFailure
		}
		release(ctx, l, lease, outcome)

		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRejected) {
			return err
		}
		slog.Info("Session rejected, retrying with another", "site", site, "session_id", lease.ID, "attempt", attempt)
		lastErr = err
	}
	return lastErr
}

// release reports the outcome even when ctx has already expired, so a
// timed-out caller still records its failure.
func release(ctx context.Context, l Leaser, lease *sessions.Lease, outcome sessions.Outcome) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := l.Release(rctx, lease.ID, outcome)
	switch {
	case err == nil:
	case errors.Is(err, sessions.ErrNotFound):
		slog.Debug("Session gone before release", "site", lease.Site, "session_id", lease.ID)
	default:
		slog.Warn("Failed to release session", "site", lease.Site, "session_id", lease.ID, "error", err)
	}
}
