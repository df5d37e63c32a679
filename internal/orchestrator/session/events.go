package session

import (
	"time"
)

const (
	RoleUser   = "user"
	RoleSystem = "system"
)

// Message is one conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Note is a session-scoped value. A nil ExpiresAt never expires.
type Note struct {
	Value     any        `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (n Note) expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

// Memory is a snapshot of one session.
type Memory struct {
	Conversation []Message      `json:"conversation"`
	Notes        map[string]Note `json:"notes"`
	CreatedAt    time.Time      `json:"created_at"`
}
