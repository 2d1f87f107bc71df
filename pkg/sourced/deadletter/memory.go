package deadletter

import (
	"context"
	"sort"
	"sync"

	"github.com/ironbell/sourced/pkg/sourced/event"
)

// MemoryStore is an in-memory dead-letter store for testing and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry // keyed by entry ID
	order   []string
	closed  bool
}

// NewMemoryStore creates a new in-memory dead-letter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Store implements Store.
func (m *MemoryStore) Store(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.entries[entry.ID]; !exists {
		m.order = append(m.order, entry.ID)
	}
	m.entries[entry.ID] = entry
	return nil
}

// ByProjection implements Store.
func (m *MemoryStore) ByProjection(_ context.Context, projection string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []Entry
	for _, id := range m.order {
		entry := m.entries[id]
		if entry.ProjectionName == projection {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FirstFailedAt.Before(out[j].FirstFailedAt)
	})
	return out, nil
}

// Retry implements Store.
func (m *MemoryStore) Retry(_ context.Context, id string) (event.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return event.Envelope{}, ErrStoreClosed
	}
	entry, ok := m.entries[id]
	if !ok {
		return event.Envelope{}, ErrNotFound
	}
	m.remove(id)
	return entry.Event, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.remove(id)
	return nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.entries), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) remove(id string) {
	delete(m.entries, id)
	for i, stored := range m.order {
		if stored == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
