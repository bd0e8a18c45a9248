package sessions

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrInvalidHealth    = errors.New("invalid session health")
	ErrInvalidSite      = errors.New("invalid site")
)

// Store persists sessions. Implementations must make MarkLeased a
// conditional update: it succeeds only while the stored session is still
// eligible, so two callers can never both lease one session.
//
// Infrastructure failures are reported wrapped in ErrStoreUnavailable.
type Store interface {
	// Insert persists a new session. The ID must not exist yet.
	Insert(ctx context.Context, s *Session) error

	// Get returns the session with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the session unconditionally. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// List returns all sessions for site, or for every site when site is empty.
	List(ctx context.Context, site string) ([]*Session, error)

	// Sites returns the distinct sites that currently have sessions.
	Sites(ctx context.Context) ([]string, error)

	// Candidate returns the preferred eligible session for site without
	// leasing it, or ErrNotFound when none is eligible.
	Candidate(ctx context.Context, site string, h Horizon) (*Session, error)

	// MarkLeased leases the session if it is still eligible under h: unleased,
	// healthy and not expired. The lease time is h.Now. ok is false when
	// another caller won the race, the session expired meanwhile, or it is gone.
	MarkLeased(ctx context.Context, id string, h Horizon) (s *Session, ok bool, err error)

	// Release clears the lease and applies outcome. Returns ErrNotFound if absent.
	Release(ctx context.Context, id string, outcome Outcome, at time.Time, maxFailed int) (*Session, error)

	// ListStale returns unhealthy or expired sessions, for one site or all.
	ListStale(ctx context.Context, site string, h Horizon) ([]*Session, error)

	// PurgeStale deletes unhealthy or expired sessions that are not leased
	// and returns what was removed.
	PurgeStale(ctx context.Context, h Horizon) ([]*Session, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
