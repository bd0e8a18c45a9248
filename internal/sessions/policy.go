package sessions

import (
	"sort"
	"time"
)

// Horizon is the point in time against which expiry is judged. MaxAge of
// zero disables age based expiry.
type Horizon struct {
	Now    time.Time
	MaxAge time.Duration
}

// AgeCutoff returns the creation time at or before which a session is too
// old, or nil when age expiry is disabled.
func (h Horizon) AgeCutoff() *time.Time {
	if h.MaxAge <= 0 {
		return nil
	}
	t := h.Now.Add(-h.MaxAge)
	return &t
}

func (h Horizon) Expired(s *Session) bool {
	if s.ExpiresAt != nil && !s.ExpiresAt.After(h.Now) {
		return true
	}
	if cutoff := h.AgeCutoff(); cutoff != nil && !s.CreatedAt.After(*cutoff) {
		return true
	}
	return false
}

// Stale reports whether maintenance should remove the session.
func (h Horizon) Stale(s *Session) bool {
	return s.Health != HealthHealthy || h.Expired(s)
}

// Eligible reports whether the session may be handed to a new caller.
func (h Horizon) Eligible(s *Session) bool {
	return s.Health == HealthHealthy && !s.Leased && !h.Expired(s)
}

// Less orders sessions by lease preference: fewest uses, then least recently
// used (never used first), then soonest expiry with no expiry last.
func Less(a, b *Session) bool {
	if a.UsageCount != b.UsageCount {
		return a.UsageCount < b.UsageCount
	}
	switch {
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return true
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return false
	case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
	switch {
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return false
	case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Best returns the preferred eligible session among candidates, or nil.
func Best(candidates []*Session, site string, h Horizon) *Session {
	var best *Session
	for _, s := range candidates {
		if s.Site != site || !h.Eligible(s) {
			continue
		}
		if best == nil || Less(s, best) {
			best = s
		}
	}
	return best
}

func markLeased(s *Session, at time.Time) {
	s.Leased = true
	s.UsageCount++
	t := at
	s.LastUsedAt = &t
}

// ApplyOutcome performs the release transition on s.
func ApplyOutcome(s *Session, outcome Outcome, at time.Time, maxFailed int) {
	if maxFailed <= 0 {
		maxFailed = MaxFailedAttempts
	}
	s.Leased = false
	t := at
	s.LastUsedAt = &t
	if outcome == OutcomeSuccess {
		s.FailedAttempts = 0
		s.Health = HealthHealthy
		return
	}
	s.FailedAttempts++
	if s.FailedAttempts >= maxFailed {
		s.Health = HealthUnhealthy
	}
}

// BuildStats summarizes sessions for a site in creation order.
func BuildStats(site string, list []*Session, h Horizon) Stats {
	sorted := append([]*Session(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	st := Stats{Site: site, Sessions: make([]SessionStat, 0, len(sorted))}
	for _, s := range sorted {
		expired := h.Expired(s)
		valid := s.Health == HealthHealthy && !expired
		st.Total++
		if valid {
			st.Healthy++
		} else {
			st.Unhealthy++
		}
		if expired {
			st.Expired++
		}
		if s.Leased {
			st.Leased++
		}
		st.Sessions = append(st.Sessions, SessionStat{
			ID:             s.ID,
			Health:         s.Health,
			UsageCount:     s.UsageCount,
			FailedAttempts: s.FailedAttempts,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			LastUsedAt:     s.LastUsedAt,
			Leased:         s.Leased,
			Valid:          valid,
		})
	}
	return st
}
