package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ironbell/sourced/pkg/sourced/event"
)

// SQLiteStore persists dead-letter entries to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite dead-letter store.
// The path should be a file path (e.g., "./deadletters.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			projection_name TEXT NOT NULL,
			event BLOB NOT NULL,
			error_message TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			first_failed_at TEXT NOT NULL,
			last_failed_at TEXT NOT NULL,
			metadata BLOB
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_projection
		ON dead_letters(projection_name, first_failed_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Store implements Store.
func (s *SQLiteStore) Store(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	eventData, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	var metaData []byte
	if entry.Metadata != nil {
		if metaData, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, projection_name, event, error_message,
			attempt_count, first_failed_at, last_failed_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ProjectionName, eventData, entry.ErrorMessage,
		entry.AttemptCount,
		entry.FirstFailedAt.UTC().Format(time.RFC3339Nano),
		entry.LastFailedAt.UTC().Format(time.RFC3339Nano),
		metaData)
	if err != nil {
		return fmt.Errorf("store dead letter: %w", err)
	}
	return nil
}

// ByProjection implements Store.
func (s *SQLiteStore) ByProjection(ctx context.Context, projection string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, projection_name, event, error_message,
		       attempt_count, first_failed_at, last_failed_at, metadata
		FROM dead_letters
		WHERE projection_name = ?
		ORDER BY first_failed_at
	`, projection)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

// Retry implements Store.
func (s *SQLiteStore) Retry(ctx context.Context, id string) (event.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return event.Envelope{}, ErrStoreClosed
	}

	var eventData []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT event FROM dead_letters WHERE id = ?
	`, id).Scan(&eventData)
	if err == sql.ErrNoRows {
		return event.Envelope{}, ErrNotFound
	}
	if err != nil {
		return event.Envelope{}, fmt.Errorf("load dead letter: %w", err)
	}

	var env event.Envelope
	if err := json.Unmarshal(eventData, &env); err != nil {
		return event.Envelope{}, fmt.Errorf("unmarshal event: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return event.Envelope{}, fmt.Errorf("delete dead letter: %w", err)
	}
	return env, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return count, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var eventData, metaData []byte
	var firstFailed, lastFailed string
	if err := rows.Scan(&entry.ID, &entry.ProjectionName, &eventData, &entry.ErrorMessage,
		&entry.AttemptCount, &firstFailed, &lastFailed, &metaData); err != nil {
		return Entry{}, fmt.Errorf("scan dead letter: %w", err)
	}
	if err := json.Unmarshal(eventData, &entry.Event); err != nil {
		return Entry{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if metaData != nil {
		if err := json.Unmarshal(metaData, &entry.Metadata); err != nil {
			return Entry{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	entry.FirstFailedAt, _ = time.Parse(time.RFC3339Nano, firstFailed)
	entry.LastFailedAt, _ = time.Parse(time.RFC3339Nano, lastFailed)
	return entry, nil
}
