// Package storetest holds behaviour checks every sessions.Store must pass.
// Backends run them from their own tests with a constructor for a fresh,
// empty store.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/cookie-jar/internal/sessions"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore func(t *testing.T) sessions.Store) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("ListAndSites", func(t *testing.T) { testListAndSites(t, newStore(t)) })
	t.Run("CandidateOrder", func(t *testing.T) { testCandidateOrder(t, newStore(t)) })
	t.Run("CandidateEligibility", func(t *testing.T) { testCandidateEligibility(t, newStore(t)) })
	t.Run("MarkLeasedConditional", func(t *testing.T) { testMarkLeasedConditional(t, newStore(t)) })
	t.Run("MarkLeasedConcurrent", func(t *testing.T) { testMarkLeasedConcurrent(t, newStore(t)) })
	t.Run("Release", func(t *testing.T) { testRelease(t, newStore(t)) })
	t.Run("ListStale", func(t *testing.T) { testListStale(t, newStore(t)) })
	t.Run("PurgeStale", func(t *testing.T) { testPurgeStale(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func newSession(site string) *sessions.Session {
	return &sessions.Session{
		ID:        uuid.NewString(),
		Site:      site,
		Cookies:   []sessions.Cookie{{Name: "sid", Value: "v-" + site, Domain: "." + site + ".com", Path: "/"}},
		CreatedAt: base.Add(-time.Hour),
		Health:    sessions.HealthHealthy,
	}
}

func insert(t *testing.T, store sessions.Store, s *sessions.Session) *sessions.Session {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), s))
	return s
}

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func horizon() sessions.Horizon {
	return sessions.Horizon{Now: base}
}

func testInsertGet(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	s := newSession("ajio")
	s.ExpiresAt = at(time.Hour)
	s.Cookies = append(s.Cookies, sessions.Cookie{Name: "bm_sz", Value: "x", Expires: float64(base.Add(time.Hour).Unix()), HTTPOnly: true})
	insert(t, store, s)

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "ajio", got.Site)
	assert.Equal(t, s.Cookies, got.Cookies)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, s.ExpiresAt.Equal(*got.ExpiresAt))
	assert.Nil(t, got.LastUsedAt)
	assert.Zero(t, got.UsageCount)
	assert.Zero(t, got.FailedAttempts)
	assert.Equal(t, sessions.HealthHealthy, got.Health)
	assert.False(t, got.Leased)

	bad := newSession("ajio")
	bad.Health = "degraded"
	assert.ErrorIs(t, store.Insert(ctx, bad), sessions.ErrInvalidHealth)
}

func testNotFound(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := store.Get(ctx, missing)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, missing), sessions.ErrNotFound)

	_, err = store.Release(ctx, missing, sessions.OutcomeSuccess, base, 3)
	assert.ErrorIs(t, err, sessions.ErrNotFound)

	_, ok, err := store.MarkLeased(ctx, missing, horizon())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Candidate(ctx, "ajio", horizon())
	assert.ErrorIs(t, err, sessions.ErrNotFound)

	s := insert(t, store, newSession("ajio"))
	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
}

func testListAndSites(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	a1 := newSession("ajio")
	a2 := newSession("ajio")
	a2.CreatedAt = a1.CreatedAt.Add(time.Minute)
	insert(t, store, a2)
	insert(t, store, a1)
	insert(t, store, newSession("myntra"))

	list, err := store.List(ctx, "ajio")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a1.ID, list[0].ID)
	assert.Equal(t, a2.ID, list[1].ID)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	sites, err := store.Sites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ajio", "myntra"}, sites)
}

func testCandidateOrder(t *testing.T, store sessions.Store) {
	ctx := context.Background()

	heavy := newSession("nykaa")
	heavy.UsageCount = 3
	insert(t, store, heavy)

	recent := newSession("nykaa")
	recent.UsageCount = 1
	recent.LastUsedAt = at(-time.Minute)
	insert(t, store, recent)

	older := newSession("nykaa")
	older.UsageCount = 1
	older.LastUsedAt = at(-time.Hour)
	insert(t, store, older)

	got, err := store.Candidate(ctx, "nykaa", horizon())
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	neverNoExpiry := newSession("nykaa")
	neverNoExpiry.UsageCount = 1
	insert(t, store, neverNoExpiry)

	neverExpiring := newSession("nykaa")
	neverExpiring.UsageCount = 1
	neverExpiring.ExpiresAt = at(30 * time.Minute)
	insert(t, store, neverExpiring)

	got, err = store.Candidate(ctx, "nykaa", horizon())
	require.NoError(t, err)
	assert.Equal(t, neverExpiring.ID, got.ID)
	assert.False(t, got.Leased, "Candidate must not lease")
}

func testCandidateEligibility(t *testing.T, store sessions.Store) {
	ctx := context.Background()

	expired := newSession("ajio")
	expired.ExpiresAt = at(-time.Second)
	insert(t, store, expired)

	unhealthy := newSession("ajio")
	unhealthy.Health = sessions.HealthUnhealthy
	unhealthy.FailedAttempts = 3
	insert(t, store, unhealthy)

	leased := newSession("ajio")
	leased.Leased = true
	insert(t, store, leased)

	tooOld := newSession("ajio")
	tooOld.CreatedAt = base.Add(-48 * time.Hour)
	insert(t, store, tooOld)

	insert(t, store, newSession("myntra"))

	h := sessions.Horizon{Now: base, MaxAge: 24 * time.Hour}
	_, err := store.Candidate(ctx, "ajio", h)
	assert.ErrorIs(t, err, sessions.ErrNotFound)

	got, err := store.Candidate(ctx, "ajio", horizon())
	require.NoError(t, err)
	assert.Equal(t, tooOld.ID, got.ID)
}

func testMarkLeasedConditional(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	s := insert(t, store, newSession("ajio"))

	leased, ok, err := store.MarkLeased(ctx, s.ID, horizon())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, leased.Leased)
	assert.Equal(t, 1, leased.UsageCount)
	require.NotNil(t, leased.LastUsedAt)
	assert.True(t, base.Equal(*leased.LastUsedAt))

	_, ok, err = store.MarkLeased(ctx, s.ID, horizon())
	require.NoError(t, err)
	assert.False(t, ok)

	sick := newSession("ajio")
	sick.Health = sessions.HealthUnhealthy
	insert(t, store, sick)
	_, ok, err = store.MarkLeased(ctx, sick.ID, horizon())
	require.NoError(t, err)
	assert.False(t, ok)

	// A session that passes Candidate can expire before the conditional
	// update lands; the update must still refuse it.
	expiring := newSession("ajio")
	expiring.ExpiresAt = at(time.Minute)
	insert(t, store, expiring)
	_, ok, err = store.MarkLeased(ctx, expiring.ID, sessions.Horizon{Now: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok)

	aged := newSession("ajio")
	aged.CreatedAt = base.Add(-2 * time.Hour)
	insert(t, store, aged)
	_, ok, err = store.MarkLeased(ctx, aged.ID, sessions.Horizon{Now: base, MaxAge: 2 * time.Hour})
	require.NoError(t, err)
	assert.False(t, ok)

	for _, id := range []string{expiring.ID, aged.ID} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.Leased)
		assert.Zero(t, got.UsageCount)
	}

	leased, ok, err = store.MarkLeased(ctx, expiring.ID, horizon())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, expiring.ID, leased.ID)
}

func testMarkLeasedConcurrent(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	s := insert(t, store, newSession("ajio"))

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.MarkLeased(ctx, s.ID, horizon())
			if assert.NoError(t, err) && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
}

func testRelease(t *testing.T, store sessions.Store) {
	ctx := context.Background()
	s := insert(t, store, newSession("ajio"))

	for i := 1; i <= 3; i++ {
		_, ok, err := store.MarkLeased(ctx, s.ID, horizon())
		require.NoError(t, err)
		require.True(t, ok, "lease %d", i)

		got, err := store.Release(ctx, s.ID, sessions.OutcomeFailure, base.Add(time.Duration(i)*time.Minute), 3)
		require.NoError(t, err)
		assert.False(t, got.Leased)
		assert.Equal(t, i, got.FailedAttempts)
		if i < 3 {
			assert.Equal(t, sessions.HealthHealthy, got.Health)
		} else {
			assert.Equal(t, sessions.HealthUnhealthy, got.Health)
		}
		require.NotNil(t, got.LastUsedAt)
		assert.True(t, base.Add(time.Duration(i)*time.Minute).Equal(*got.LastUsedAt))
	}

	got, err := store.Release(ctx, s.ID, sessions.OutcomeSuccess, base.Add(time.Hour), 3)
	require.NoError(t, err)
	assert.Zero(t, got.FailedAttempts)
	assert.Equal(t, sessions.HealthHealthy, got.Health)

	stored, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.UsageCount)
	assert.Zero(t, stored.FailedAttempts)
}

func testListStale(t *testing.T, store sessions.Store) {
	ctx := context.Background()

	sick := newSession("myntra")
	sick.Health = sessions.HealthUnhealthy
	insert(t, store, sick)

	expired := newSession("myntra")
	expired.ExpiresAt = at(0)
	expired.Leased = true
	insert(t, store, expired)

	insert(t, store, newSession("myntra"))

	otherSite := newSession("ajio")
	otherSite.Health = sessions.HealthUnhealthy
	insert(t, store, otherSite)

	stale, err := store.ListStale(ctx, "myntra", horizon())
	require.NoError(t, err)
	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{sick.ID, expired.ID}, ids)

	all, err := store.ListStale(ctx, "", horizon())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testPurgeStale(t *testing.T, store sessions.Store) {
	ctx := context.Background()

	sick := newSession("ajio")
	sick.Health = sessions.HealthUnhealthy
	insert(t, store, sick)

	expired := newSession("myntra")
	expired.ExpiresAt = at(-time.Minute)
	insert(t, store, expired)

	leasedSick := newSession("ajio")
	leasedSick.Health = sessions.HealthUnhealthy
	leasedSick.Leased = true
	insert(t, store, leasedSick)

	healthy := insert(t, store, newSession("ajio"))

	removed, err := store.PurgeStale(ctx, horizon())
	require.NoError(t, err)
	ids := make([]string, 0, len(removed))
	for _, s := range removed {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{sick.ID, expired.ID}, ids)

	rest, err := store.List(ctx, "")
	require.NoError(t, err)
	ids = ids[:0]
	for _, s := range rest {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{leasedSick.ID, healthy.ID}, ids)
}
