package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStateStore persists projection state to SQLite.
// It is suitable for single-process production use.
type SQLiteStateStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStateStore creates a new SQLite projection state store.
// The path should be a file path (e.g., "./projections.db") or ":memory:" for testing.
func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projection_state (
			projection_name TEXT PRIMARY KEY,
			state BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStateStore{db: db}, nil
}

// Load implements StateStore.
func (s *SQLiteStateStore) Load(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var state []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM projection_state WHERE projection_name = ?
	`, name).Scan(&state)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load projection state: %w", err)
	}
	return state, nil
}

// Save implements StateStore.
func (s *SQLiteStateStore) Save(ctx context.Context, name string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_state (projection_name, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(projection_name) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, name, state, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save projection state: %w", err)
	}
	return nil
}

// Delete implements StateStore.
func (s *SQLiteStateStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM projection_state WHERE projection_name = ?
	`, name); err != nil {
		return fmt.Errorf("delete projection state: %w", err)
	}
	return nil
}

// Close implements StateStore.
func (s *SQLiteStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
