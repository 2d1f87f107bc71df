package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	recs   map[string]Record
	closed bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	stored := rec
	stored.State = append(json.RawMessage(nil), rec.State...)
	m.recs[rec.Projection] = stored
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, projection string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}
	rec, ok := m.recs[projection]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.State = append(json.RawMessage(nil), rec.State...)
	return rec, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, projection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.recs, projection)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
