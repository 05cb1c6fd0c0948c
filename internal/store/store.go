// ABOUTME: Store interface and session data types for gateway persistence.
// ABOUTME: Sessions are keyed by session key and carry preview/count/workdir metadata.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("not found")

// Session is the durable record of a logical conversation.
type Session struct {
	Key                string
	AgentID            string
	LastMessagePreview string
	MessageCount       int
	Workdir            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SessionUpdate carries the fields an upsert may change. Nil fields are left
// untouched.
type SessionUpdate struct {
	LastMessagePreview *string
	Workdir            *string
}

// Store defines session persistence.
type Store interface {
	// GetSession returns the session for the key, or ErrNotFound.
	GetSession(ctx context.Context, key string) (*Session, error)

	// GetOrCreateSession returns the session for the key, creating it with
	// the given agent id if it does not exist.
	GetOrCreateSession(ctx context.Context, key, agentID string) (*Session, error)

	// UpdateSession applies the non-nil fields of the update.
	UpdateSession(ctx context.Context, key string, update SessionUpdate) error

	// IncrementMessageCount bumps the session's message count by one.
	IncrementMessageCount(ctx context.Context, key string) error

	// ListSessions returns all known sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]*Session, error)

	// Close releases the store's resources.
	Close() error
}
