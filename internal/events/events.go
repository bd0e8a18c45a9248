package events

import (
	"context"
	"time"
)

// Event types published for session lifecycle changes.
const (
	SessionCreated     = "session.created"
	SessionQuarantined = "session.quarantined"
	SessionReplaced    = "session.replaced"
	SessionPurged      = "session.purged"
)

type SessionEvent struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"session_id"`
	Site         string    `json:"site"`
	ReplacedByID string    `json:"replaced_by_id,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher delivers lifecycle events. Publishing is best effort: the pool
// logs failures and carries on.
type Publisher interface {
	Publish(ctx context.Context, ev SessionEvent) error
}

type Nop struct{}

func (Nop) Publish(context.Context, SessionEvent) error { return nil }
