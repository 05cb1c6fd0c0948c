// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides session persistence with automatic schema creation and WAL mode.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema is
// created if it doesn't exist; parent directories are created if needed.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL improves concurrent read performance; harmless for :memory:.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// createSchema creates the sessions table if it doesn't exist.
func (s *SQLiteStore) createSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		last_message_preview TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		workdir TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetSession returns the session for the key, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, agent_id, last_message_preview, message_count, workdir, created_at, updated_at
		 FROM sessions WHERE key = ?`, key)
	return scanSession(row)
}

// GetOrCreateSession returns the session for the key, creating it if needed.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, key, agentID string) (*Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, agent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`, key, agentID, now, now)
	if err != nil {
		return nil, fmt.Errorf("upserting session: %w", err)
	}
	return s.GetSession(ctx, key)
}

// UpdateSession applies the non-nil fields of the update. Returns ErrNotFound
// for unknown keys.
func (s *SQLiteStore) UpdateSession(ctx context.Context, key string, update SessionUpdate) error {
	now := time.Now().UTC()
	if update.LastMessagePreview != nil {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET last_message_preview = ?, updated_at = ? WHERE key = ?`,
			*update.LastMessagePreview, now, key)
		if err != nil {
			return fmt.Errorf("updating preview: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
	}
	if update.Workdir != nil {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET workdir = ?, updated_at = ? WHERE key = ?`,
			*update.Workdir, now, key)
		if err != nil {
			return fmt.Errorf("updating workdir: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
	}
	return nil
}

// requireRow maps an update that touched nothing to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementMessageCount bumps the session's message count by one.
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE key = ?`,
		time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("incrementing message count: %w", err)
	}
	return requireRow(res)
}

// ListSessions returns all sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, agent_id, last_message_preview, message_count, workdir, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.Key, &sess.AgentID, &sess.LastMessagePreview,
		&sess.MessageCount, &sess.Workdir, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}
