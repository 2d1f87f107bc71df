package snapshot

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory snapshot store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	snaps  map[string]map[int64]Snapshot // id -> version -> snapshot
	closed bool
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps: make(map[string]map[int64]Snapshot),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.snaps[snap.ID] == nil {
		m.snaps[snap.ID] = make(map[int64]Snapshot)
	}

	// Defensive copy of the state bytes so later caller mutation cannot
	// corrupt the stored snapshot.
	stored := snap
	stored.State = append([]byte(nil), snap.State...)
	m.snaps[snap.ID][snap.Version] = stored
	return nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Snapshot{}, ErrStoreClosed
	}
	versions, ok := m.snaps[id]
	if !ok || len(versions) == 0 {
		return Snapshot{}, ErrNotFound
	}

	var best Snapshot
	var bestVersion int64 = -1
	for v, snap := range versions {
		if v > bestVersion {
			bestVersion = v
			best = snap
		}
	}
	best.State = append([]byte(nil), best.State...)
	return best, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.snaps, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
