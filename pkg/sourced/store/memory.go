package store

import (
	"context"
	"sync"

	serrors "github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
)

// MemoryStateStore is an in-memory projection state store for testing.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string][]byte
	closed bool
}

// NewMemoryStateStore creates a new in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string][]byte)}
}

// Load implements StateStore.
func (m *MemoryStateStore) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	state, ok := m.states[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), state...), nil
}

// Save implements StateStore.
func (m *MemoryStateStore) Save(_ context.Context, name string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.states[name] = append([]byte(nil), state...)
	return nil
}

// Delete implements StateStore.
func (m *MemoryStateStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.states, name)
	return nil
}

// Close implements StateStore.
func (m *MemoryStateStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type streamKey struct {
	aggregateType string
	aggregateID   string
}

// MemoryEventStore is an in-memory event store for testing and examples.
// Envelopes keep their payloads as-is; nothing is serialized.
type MemoryEventStore struct {
	mu     sync.RWMutex
	log    []event.Envelope
	heads  map[streamKey]int64
	closed bool
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{heads: make(map[streamKey]int64)}
}

// Append implements EventStore.
func (m *MemoryEventStore) Append(_ context.Context, expected ExpectedVersion, events []event.Envelope) ([]int64, error) {
	if err := validateBatch(events); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	key := streamKey{
		aggregateType: events[0].Meta.AggregateType,
		aggregateID:   events[0].Meta.AggregateID,
	}
	head := m.heads[key]

	switch {
	case expected.IsNoStream() && head != 0:
		return nil, conflict(key, head, 0)
	case expected.IsExact() && head != expected.Value():
		return nil, conflict(key, head, expected.Value())
	}
	if events[0].Meta.AggregateVersion != head+1 {
		return nil, conflict(key, head, events[0].Meta.AggregateVersion-1)
	}

	positions := make([]int64, 0, len(events))
	for _, env := range events {
		pos := int64(len(m.log)) + 1
		m.log = append(m.log, env.WithPosition(pos))
		positions = append(positions, pos)
	}
	m.heads[key] = events[len(events)-1].Meta.AggregateVersion
	return positions, nil
}

// ReadStream implements EventStore.
func (m *MemoryEventStore) ReadStream(_ context.Context, aggregateType, aggregateID string) ([]event.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []event.Envelope
	for _, env := range m.log {
		if env.Meta.AggregateType == aggregateType && env.Meta.AggregateID == aggregateID {
			out = append(out, env)
		}
	}
	return out, nil
}

// ReadAll implements EventStore.
func (m *MemoryEventStore) ReadAll(_ context.Context, fromPosition int64, limit int) ([]event.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []event.Envelope
	for _, env := range m.log {
		if env.Meta.Position <= fromPosition {
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close implements EventStore.
func (m *MemoryEventStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func conflict(key streamKey, current, expected int64) error {
	return &serrors.VersionConflictError{
		AggregateType: key.aggregateType,
		AggregateID:   key.aggregateID,
		Current:       current,
		Expected:      expected,
	}
}
