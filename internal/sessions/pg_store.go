package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, site, cookies, created_at, expires_at, usage_count, last_used_at, failed_attempts, health::text, leased`

// Stale predicate shared by sweep and purge. $2 is now, $3 the optional age cutoff.
const stalePredicate = `(health = 'unhealthy'
	OR (expires_at IS NOT NULL AND expires_at <= $2)
	OR ($3::timestamptz IS NOT NULL AND created_at <= $3::timestamptz))`

// PGStore keeps sessions in the cookie_sessions table. Every process that
// shares the database shares the pool; leasing relies on row level
// conditional updates rather than in-process locks.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (p *PGStore) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (p *PGStore) Insert(ctx context.Context, s *Session) error {
	if !s.Health.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidHealth, s.Health)
	}
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", s.ID, err)
	}
	cookies, err := json.Marshal(s.Cookies)
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}

	q := `
		INSERT INTO cookie_sessions
		  (id, site, cookies, created_at, expires_at, usage_count, last_used_at, failed_attempts, health, leased)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::session_health, $10)
	`
	_, err = p.pool.Exec(ctx, q,
		pgtype.UUID{Bytes: id, Valid: true},
		s.Site,
		cookies,
		s.CreatedAt,
		toTimestamptz(s.ExpiresAt),
		s.UsageCount,
		toTimestamptz(s.LastUsedAt),
		s.FailedAttempts,
		string(s.Health),
		s.Leased,
	)
	if err != nil {
		return unavailable("insert session", err)
	}
	return nil
}

func (p *PGStore) Get(ctx context.Context, id string) (*Session, error) {
	pgID, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	q := `SELECT ` + sessionColumns + ` FROM cookie_sessions WHERE id = $1`
	s, err := scanSession(p.pool.QueryRow(ctx, q, pgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get session", err)
	}
	return s, nil
}

func (p *PGStore) Delete(ctx context.Context, id string) error {
	pgID, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM cookie_sessions WHERE id = $1`, pgID)
	if err != nil {
		return unavailable("delete session", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PGStore) List(ctx context.Context, site string) ([]*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM cookie_sessions
		WHERE ($1 = '' OR site = $1)
		ORDER BY created_at, id`
	return p.query(ctx, "list sessions", q, site)
}

func (p *PGStore) Sites(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT site FROM cookie_sessions ORDER BY site`)
	if err != nil {
		return nil, unavailable("list sites", err)
	}
	sites, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("list sites", err)
	}
	return sites, nil
}

func (p *PGStore) Candidate(ctx context.Context, site string, h Horizon) (*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM cookie_sessions
		WHERE site = $1
		  AND health = 'healthy'
		  AND leased = FALSE
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND ($3::timestamptz IS NULL OR created_at > $3::timestamptz)
		ORDER BY usage_count ASC, last_used_at ASC NULLS FIRST, expires_at ASC NULLS LAST, created_at ASC
		LIMIT 1`
	s, err := scanSession(p.pool.QueryRow(ctx, q, site, h.Now, toTimestamptz(h.AgeCutoff())))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("select candidate", err)
	}
	return s, nil
}

func (p *PGStore) MarkLeased(ctx context.Context, id string, h Horizon) (*Session, bool, error) {
	pgID, ok := parseID(id)
	if !ok {
		return nil, false, nil
	}
	q := `UPDATE cookie_sessions
		SET leased = TRUE, usage_count = usage_count + 1, last_used_at = $2
		WHERE id = $1
		  AND leased = FALSE
		  AND health = 'healthy'
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND ($3::timestamptz IS NULL OR created_at > $3::timestamptz)
		RETURNING ` + sessionColumns
	s, err := scanSession(p.pool.QueryRow(ctx, q, pgID, h.Now, toTimestamptz(h.AgeCutoff())))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, unavailable("lease session", err)
	}
	return s, true, nil
}

func (p *PGStore) Release(ctx context.Context, id string, outcome Outcome, at time.Time, maxFailed int) (*Session, error) {
	pgID, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	if maxFailed <= 0 {
		maxFailed = MaxFailedAttempts
	}
	// Right hand sides see the pre-update row, so failed_attempts + 1 is the new count.
	q := `UPDATE cookie_sessions
		SET leased = FALSE,
		    last_used_at = $2,
		    failed_attempts = CASE WHEN $3 THEN 0 ELSE failed_attempts + 1 END,
		    health = CASE
		        WHEN $3 THEN 'healthy'::session_health
		        WHEN failed_attempts + 1 >= $4 THEN 'unhealthy'::session_health
		        ELSE health
		    END
		WHERE id = $1
		RETURNING ` + sessionColumns
	s, err := scanSession(p.pool.QueryRow(ctx, q, pgID, at, outcome == OutcomeSuccess, maxFailed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable("release session", err)
	}
	return s, nil
}

func (p *PGStore) ListStale(ctx context.Context, site string, h Horizon) ([]*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM cookie_sessions
		WHERE ($1 = '' OR site = $1) AND ` + stalePredicate + `
		ORDER BY created_at, id`
	return p.query(ctx, "list stale sessions", q, site, h.Now, toTimestamptz(h.AgeCutoff()))
}

func (p *PGStore) PurgeStale(ctx context.Context, h Horizon) ([]*Session, error) {
	q := `DELETE FROM cookie_sessions
		WHERE leased = FALSE AND ($1 = '' OR site = $1) AND ` + stalePredicate + `
		RETURNING ` + sessionColumns
	return p.query(ctx, "purge stale sessions", q, "", h.Now, toTimestamptz(h.AgeCutoff()))
}

func (p *PGStore) query(ctx context.Context, op, q string, args ...any) ([]*Session, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return result, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		id         pgtype.UUID
		s          Session
		cookies    []byte
		expiresAt  pgtype.Timestamptz
		lastUsedAt pgtype.Timestamptz
		health     string
		createdAt  pgtype.Timestamptz
	)
	if err := row.Scan(
		&id,
		&s.Site,
		&cookies,
		&createdAt,
		&expiresAt,
		&s.UsageCount,
		&lastUsedAt,
		&s.FailedAttempts,
		&health,
		&s.Leased,
	); err != nil {
		return nil, err
	}

	parsed, err := ParseHealth(health)
	if err != nil {
		return nil, err
	}
	s.Health = parsed
	s.ID = uuid.UUID(id.Bytes).String()
	s.CreatedAt = createdAt.Time.UTC()
	s.ExpiresAt = fromTimestamptz(expiresAt)
	s.LastUsedAt = fromTimestamptz(lastUsedAt)
	if len(cookies) > 0 {
		if err := json.Unmarshal(cookies, &s.Cookies); err != nil {
			return nil, fmt.Errorf("decode cookies: %w", err)
		}
	}
	return &s, nil
}

func parseID(id string) (pgtype.UUID, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, true
}

func toTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromTimestamptz(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
