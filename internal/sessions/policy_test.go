package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tp(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestHorizonExpired(t *testing.T) {
	h := Horizon{Now: now, MaxAge: 24 * time.Hour}

	assert.False(t, h.Expired(&Session{CreatedAt: now.Add(-time.Hour)}))
	assert.True(t, h.Expired(&Session{CreatedAt: now, ExpiresAt: tp(0)}))
	assert.True(t, h.Expired(&Session{CreatedAt: now, ExpiresAt: tp(-time.Second)}))
	assert.False(t, h.Expired(&Session{CreatedAt: now, ExpiresAt: tp(time.Second)}))
	assert.True(t, h.Expired(&Session{CreatedAt: now.Add(-24 * time.Hour)}))

	noAge := Horizon{Now: now}
	assert.Nil(t, noAge.AgeCutoff())
	assert.False(t, noAge.Expired(&Session{CreatedAt: now.Add(-1000 * time.Hour)}))
}

func TestEligible(t *testing.T) {
	h := Horizon{Now: now}
	assert.True(t, h.Eligible(&Session{Health: HealthHealthy}))
	assert.False(t, h.Eligible(&Session{Health: HealthHealthy, Leased: true}))
	assert.False(t, h.Eligible(&Session{Health: HealthUnhealthy}))
	assert.False(t, h.Eligible(&Session{Health: HealthHealthy, ExpiresAt: tp(-time.Minute)}))
}

func TestBestOrdering(t *testing.T) {
	h := Horizon{Now: now}
	list := []*Session{
		{ID: "u3", Site: "s", Health: HealthHealthy, UsageCount: 3},
		{ID: "u1-recent", Site: "s", Health: HealthHealthy, UsageCount: 1, LastUsedAt: tp(-time.Minute)},
		{ID: "u1-old", Site: "s", Health: HealthHealthy, UsageCount: 1, LastUsedAt: tp(-time.Hour)},
		{ID: "u2", Site: "s", Health: HealthHealthy, UsageCount: 2},
		{ID: "u0-other-site", Site: "t", Health: HealthHealthy},
	}
	assert.Equal(t, "u1-old", Best(list, "s", h).ID)
	assert.Nil(t, Best(list, "missing", h))
}

func TestLessExpiryNullsLast(t *testing.T) {
	soon := &Session{ExpiresAt: tp(time.Minute)}
	later := &Session{ExpiresAt: tp(time.Hour)}
	never := &Session{}

	assert.True(t, Less(soon, later))
	assert.True(t, Less(later, never))
	assert.False(t, Less(never, soon))
}

func TestApplyOutcome(t *testing.T) {
	s := &Session{Health: HealthHealthy, Leased: true}

	ApplyOutcome(s, OutcomeFailure, now, 3)
	ApplyOutcome(s, OutcomeFailure, now, 3)
	assert.Equal(t, 2, s.FailedAttempts)
	assert.Equal(t, HealthHealthy, s.Health)
	assert.False(t, s.Leased)

	ApplyOutcome(s, OutcomeFailure, now, 3)
	assert.Equal(t, HealthUnhealthy, s.Health)

	ApplyOutcome(s, OutcomeSuccess, now.Add(time.Minute), 3)
	assert.Zero(t, s.FailedAttempts)
	assert.Equal(t, HealthHealthy, s.Health)
	assert.True(t, now.Add(time.Minute).Equal(*s.LastUsedAt))

	ApplyOutcome(s, OutcomeFailure, now, 0)
	assert.Equal(t, HealthHealthy, s.Health, "zero threshold falls back to the default")
}

func TestBuildStats(t *testing.T) {
	h := Horizon{Now: now}
	list := []*Session{
		{ID: "b", Health: HealthHealthy, CreatedAt: now.Add(-time.Minute), Leased: true, UsageCount: 2},
		{ID: "a", Health: HealthUnhealthy, CreatedAt: now.Add(-time.Hour), FailedAttempts: 3},
		{ID: "c", Health: HealthHealthy, CreatedAt: now, ExpiresAt: tp(-time.Second)},
	}

	st := BuildStats("ajio", list, h)
	assert.Equal(t, "ajio", st.Site)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Healthy)
	assert.Equal(t, 2, st.Unhealthy)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, 1, st.Leased)

	ids := []string{st.Sessions[0].ID, st.Sessions[1].ID, st.Sessions[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.True(t, st.Sessions[1].Valid)
	assert.False(t, st.Sessions[2].Valid)
}
