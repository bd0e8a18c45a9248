package dto

import "github.com/EternisAI/cookie-jar/internal/sessions"

type AcquireLeaseRequest struct {
	Site string `json:"site" binding:"required"`
}

type LeaseResponse struct {
	ID           string            `json:"id"`
	Site         string            `json:"site"`
	Cookies      []sessions.Cookie `json:"cookies"`
	CookieHeader string            `json:"cookie_header"`
}

type ReleaseLeaseResponse struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

func NewLeaseResponse(l *sessions.Lease) LeaseResponse {
	cookies := l.Cookies
	if cookies == nil {
		cookies = []sessions.Cookie{}
	}
	return LeaseResponse{
		ID:           l.ID,
		Site:         l.Site,
		Cookies:      cookies,
		CookieHeader: l.CookieHeader(),
	}
}

// Lease converts the wire form back into a lease handle.
func (r LeaseResponse) Lease() *sessions.Lease {
	return &sessions.Lease{ID: r.ID, Site: r.Site, Cookies: r.Cookies}
}
