// ABOUTME: In-memory Store implementation for tests and ephemeral deployments.
// ABOUTME: Mirrors the SQLite store's semantics without touching disk.

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with a mutex-guarded map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// GetSession returns the session for the key, or ErrNotFound.
func (m *MemoryStore) GetSession(_ context.Context, key string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// GetOrCreateSession returns the session for the key, creating it if needed.
func (m *MemoryStore) GetOrCreateSession(_ context.Context, key, agentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[key]; ok {
		cp := *sess
		return &cp, nil
	}
	now := time.Now().UTC()
	sess := &Session{Key: key, AgentID: agentID, CreatedAt: now, UpdatedAt: now}
	m.sessions[key] = sess
	cp := *sess
	return &cp, nil
}

// UpdateSession applies the non-nil fields of the update.
func (m *MemoryStore) UpdateSession(_ context.Context, key string, update SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[key]
	if !ok {
		return ErrNotFound
	}
	if update.LastMessagePreview != nil {
		sess.LastMessagePreview = *update.LastMessagePreview
	}
	if update.Workdir != nil {
		sess.Workdir = *update.Workdir
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementMessageCount bumps the session's message count by one.
func (m *MemoryStore) IncrementMessageCount(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[key]
	if !ok {
		return ErrNotFound
	}
	sess.MessageCount++
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// ListSessions returns all sessions, most recently updated first.
func (m *MemoryStore) ListSessions(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
