package dto

import (
	"time"

	"github.com/EternisAI/cookie-jar/internal/sessions"
)

type SessionInfo struct {
	ID             string     `json:"id"`
	Health         string     `json:"health"`
	Valid          bool       `json:"valid"`
	Leased         bool       `json:"leased"`
	UsageCount     int        `json:"usage_count"`
	FailedAttempts int        `json:"failed_attempts"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

type SiteStatsResponse struct {
	Site      string        `json:"site"`
	Total     int           `json:"total"`
	Healthy   int           `json:"healthy"`
	Unhealthy int           `json:"unhealthy"`
	Expired   int           `json:"expired"`
	Leased    int           `json:"leased"`
	Sessions  []SessionInfo `json:"sessions"`
}

type AllStatsResponse struct {
	Sites []SiteStatsResponse `json:"sites"`
	Count int                 `json:"count"`
}

func NewSiteStatsResponse(st sessions.Stats) SiteStatsResponse {
	infos := make([]SessionInfo, len(st.Sessions))
	for i, s := range st.Sessions {
		infos[i] = SessionInfo{
			ID:             s.ID,
			Health:         string(s.Health),
			Valid:          s.Valid,
			Leased:         s.Leased,
			UsageCount:     s.UsageCount,
			FailedAttempts: s.FailedAttempts,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			LastUsedAt:     s.LastUsedAt,
		}
	}
	return SiteStatsResponse{
		Site:      st.Site,
		Total:     st.Total,
		Healthy:   st.Healthy,
		Unhealthy: st.Unhealthy,
		Expired:   st.Expired,
		Leased:    st.Leased,
		Sessions:  infos,
	}
}
