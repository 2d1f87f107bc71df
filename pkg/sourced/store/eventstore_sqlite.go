package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	serrors "github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
)

// SQLiteEventStore persists event envelopes to SQLite with a global
// position order. Payloads are stored as JSON; envelopes read back carry
// json.RawMessage payloads that handlers decode themselves.
type SQLiteEventStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteEventStore creates a new SQLite event store.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteEventStore(path string) (*SQLiteEventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// The unique constraint on (aggregate_type, aggregate_id,
	// aggregate_version) is the optimistic-concurrency safety net: a
	// conflicting append that races past the head check fails here.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			global_position INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			event_version INTEGER NOT NULL DEFAULT 1,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			aggregate_version INTEGER NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			causation_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			payload BLOB,
			UNIQUE (aggregate_type, aggregate_id, aggregate_version)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_stream
		ON events(aggregate_type, aggregate_id, aggregate_version)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteEventStore{db: db}, nil
}

// Append implements EventStore.
func (s *SQLiteEventStore) Append(ctx context.Context, expected ExpectedVersion, events []event.Envelope) ([]int64, error) {
	if err := validateBatch(events); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	first := events[0].Meta
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var head int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(aggregate_version), 0) FROM events
		WHERE aggregate_type = ? AND aggregate_id = ?
	`, first.AggregateType, first.AggregateID).Scan(&head)
	if err != nil {
		return nil, fmt.Errorf("read stream head: %w", err)
	}

	switch {
	case expected.IsNoStream() && head != 0:
		return nil, streamConflict(first, head, 0)
	case expected.IsExact() && head != expected.Value():
		return nil, streamConflict(first, head, expected.Value())
	}
	if first.AggregateVersion != head+1 {
		return nil, streamConflict(first, head, first.AggregateVersion-1)
	}

	positions := make([]int64, 0, len(events))
	for _, env := range events {
		payload, err := json.Marshal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", env.EventType, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (
				event_id, event_type, event_version,
				aggregate_type, aggregate_id, aggregate_version,
				correlation_id, causation_id, created_at, payload
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, env.Meta.EventID, env.EventType, env.SchemaVersion(),
			env.Meta.AggregateType, env.Meta.AggregateID, env.Meta.AggregateVersion,
			env.Meta.CorrelationID, env.Meta.CausationID,
			env.Meta.Timestamp.UTC().Format(time.RFC3339Nano), payload)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, streamConflict(first, head, expected.Value())
			}
			return nil, fmt.Errorf("insert event: %w", err)
		}

		pos, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read assigned position: %w", err)
		}
		positions = append(positions, pos)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, streamConflict(first, head, expected.Value())
		}
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return positions, nil
}

// ReadStream implements EventStore.
func (s *SQLiteEventStore) ReadStream(ctx context.Context, aggregateType, aggregateID string) ([]event.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT global_position, event_id, event_type, event_version,
		       aggregate_type, aggregate_id, aggregate_version,
		       correlation_id, causation_id, created_at, payload
		FROM events
		WHERE aggregate_type = ? AND aggregate_id = ?
		ORDER BY aggregate_version
	`, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

// ReadAll implements EventStore.
func (s *SQLiteEventStore) ReadAll(ctx context.Context, fromPosition int64, limit int) ([]event.Envelope, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT global_position, event_id, event_type, event_version,
		       aggregate_type, aggregate_id, aggregate_version,
		       correlation_id, causation_id, created_at, payload
		FROM events
		WHERE global_position > ?
		ORDER BY global_position
		LIMIT ?
	`, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

// Close implements EventStore.
func (s *SQLiteEventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEnvelopes(rows *sql.Rows) ([]event.Envelope, error) {
	var out []event.Envelope
	for rows.Next() {
		var env event.Envelope
		var payload []byte
		var createdAt string
		if err := rows.Scan(
			&env.Meta.Position, &env.Meta.EventID, &env.EventType, &env.Meta.EventVersion,
			&env.Meta.AggregateType, &env.Meta.AggregateID, &env.Meta.AggregateVersion,
			&env.Meta.CorrelationID, &env.Meta.CausationID, &createdAt, &payload,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Meta.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		if payload != nil {
			env.Payload = json.RawMessage(payload)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func streamConflict(meta event.Metadata, current, expected int64) error {
	return &serrors.VersionConflictError{
		AggregateType: meta.AggregateType,
		AggregateID:   meta.AggregateID,
		Current:       current,
		Expected:      expected,
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
