package sessions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxFailedAttempts is the number of consecutive failed uses after which a
// session is quarantined as unhealthy.
const MaxFailedAttempts = 3

type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// ParseHealth accepts only the two known health values.
func ParseHealth(s string) (Health, error) {
	switch Health(strings.ToLower(strings.TrimSpace(s))) {
	case HealthHealthy:
		return HealthHealthy, nil
	case HealthUnhealthy:
		return HealthUnhealthy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidHealth, s)
}

func (h Health) Valid() bool {
	return h == HealthHealthy || h == HealthUnhealthy
}

func (h *Health) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidHealth, string(b))
	}
	parsed, err := ParseHealth(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Outcome is what a caller reports after using a leased session.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFailure
)

func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok", "healthy":
		return OutcomeSuccess, nil
	case "failure", "failed", "unhealthy":
		return OutcomeFailure, nil
	}
	return 0, fmt.Errorf("invalid outcome %q", s)
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	}
	return "unknown"
}

// Cookie is one browser cookie captured by a harvest. Expires is a unix
// timestamp in seconds; zero or negative means a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// UnmarshalJSON tolerates the expiry shapes seen from browser tooling:
// numbers, numeric strings, RFC3339 strings, millisecond timestamps and null,
// under either "expires" or the extension export name "expirationDate".
// Anything unparseable or out of range is treated as a session cookie.
func (c *Cookie) UnmarshalJSON(b []byte) error {
	type plain Cookie
	var raw struct {
		plain
		Expires        json.RawMessage `json:"expires,omitempty"`
		ExpirationDate json.RawMessage `json:"expirationDate,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Cookie(raw.plain)
	c.Expires = parseExpires(raw.Expires)
	if c.Expires == 0 {
		c.Expires = parseExpires(raw.ExpirationDate)
	}
	return nil
}

// maxExpires is 9999-12-31T23:59:59Z, the last instant JSON and Postgres
// timestamps can carry.
const maxExpires = 253402300799

func parseExpires(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}

	var v float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		s = strings.TrimSpace(s)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			v = f
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			v = float64(t.Unix())
		} else {
			return 0
		}
	} else if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}

	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	// Millisecond timestamps show up from some browser drivers.
	if v > 1e12 {
		v /= 1000
	}
	if v > maxExpires {
		return 0
	}
	return v
}

// ExpiresAt returns the cookie expiry or nil for session cookies.
func (c Cookie) ExpiresAt() *time.Time {
	if c.Expires <= 0 || c.Expires > maxExpires || math.IsNaN(c.Expires) {
		return nil
	}
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
	t := time.Unix(sec, nsec).UTC()
	return &t
}

// Session is one harvested cookie set for a site and its lease bookkeeping.
type Session struct {
	ID             string
	Site           string
	Cookies        []Cookie
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	UsageCount     int
	LastUsedAt     *time.Time
	FailedAttempts int
	Health         Health
	Leased         bool
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Cookies = append([]Cookie(nil), s.Cookies...)
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	if s.LastUsedAt != nil {
		t := *s.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}

// Lease is what a caller receives from Acquire.
type Lease struct {
	ID      string   `json:"id"`
	Site    string   `json:"site"`
	Cookies []Cookie `json:"cookies"`
}

func (s *Session) Lease() *Lease {
	return &Lease{
		ID:      s.ID,
		Site:    s.Site,
		Cookies: append([]Cookie(nil), s.Cookies...),
	}
}

// CookieHeader renders the cookies as a Cookie request header value.
func (l *Lease) CookieHeader() string {
	parts := make([]string, 0, len(l.Cookies))
	for _, c := range l.Cookies {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Stats summarizes the sessions of a single site.
type Stats struct {
	Site      string
	Total     int
	Healthy   int
	Unhealthy int
	Expired   int
	Leased    int
	Sessions  []SessionStat
}

type SessionStat struct {
	ID             string
	Health         Health
	UsageCount     int
	FailedAttempts int
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	LastUsedAt     *time.Time
	Leased         bool
	Valid          bool
}

var sitePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{0,62}$`)

// NormalizeSite lowercases and trims a site name.
func NormalizeSite(site string) string {
	return strings.ToLower(strings.TrimSpace(site))
}

// ValidateSite rejects site names that cannot safely be used as keys or
// file names.
func ValidateSite(site string) error {
	if !sitePattern.MatchString(site) || strings.Contains(site, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSite, site)
	}
	return nil
}
