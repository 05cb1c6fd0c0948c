// ABOUTME: Tests for session persistence, run against both store implementations.
// ABOUTME: SQLite uses an in-memory database; behavior must match MemoryStore.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestGetSession_NotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetSession(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestGetOrCreateSession(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := s.GetOrCreateSession(ctx, "main", "echo")
			require.NoError(t, err)
			assert.Equal(t, "main", created.Key)
			assert.Equal(t, "echo", created.AgentID)
			assert.Equal(t, 0, created.MessageCount)

			// A second call with a different agent returns the original.
			again, err := s.GetOrCreateSession(ctx, "main", "other")
			require.NoError(t, err)
			assert.Equal(t, "echo", again.AgentID)
		})
	}
}

func TestUpdateSession(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetOrCreateSession(ctx, "main", "echo")
			require.NoError(t, err)

			preview := "hello world"
			workdir := "/tmp/work"
			require.NoError(t, s.UpdateSession(ctx, "main", SessionUpdate{
				LastMessagePreview: &preview,
				Workdir:            &workdir,
			}))

			sess, err := s.GetSession(ctx, "main")
			require.NoError(t, err)
			assert.Equal(t, "hello world", sess.LastMessagePreview)
			assert.Equal(t, "/tmp/work", sess.Workdir)

			// Nil fields leave existing values untouched.
			next := "second"
			require.NoError(t, s.UpdateSession(ctx, "main", SessionUpdate{LastMessagePreview: &next}))
			sess, err = s.GetSession(ctx, "main")
			require.NoError(t, err)
			assert.Equal(t, "second", sess.LastMessagePreview)
			assert.Equal(t, "/tmp/work", sess.Workdir)
		})
	}
}

func TestUpdateSession_NotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			preview := "x"
			err := s.UpdateSession(context.Background(), "missing", SessionUpdate{LastMessagePreview: &preview})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestIncrementMessageCount(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetOrCreateSession(ctx, "main", "echo")
			require.NoError(t, err)

			require.NoError(t, s.IncrementMessageCount(ctx, "main"))
			require.NoError(t, s.IncrementMessageCount(ctx, "main"))

			sess, err := s.GetSession(ctx, "main")
			require.NoError(t, err)
			assert.Equal(t, 2, sess.MessageCount)

			assert.ErrorIs(t, s.IncrementMessageCount(ctx, "missing"), ErrNotFound)
		})
	}
}

func TestListSessions(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetOrCreateSession(ctx, "a", "echo")
			require.NoError(t, err)
			_, err = s.GetOrCreateSession(ctx, "b", "echo")
			require.NoError(t, err)

			// Touch "a" so it sorts first.
			require.NoError(t, s.IncrementMessageCount(ctx, "a"))

			sessions, err := s.ListSessions(ctx)
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, "a", sessions[0].Key)
		})
	}
}
