package store

import (
	"context"
	"fmt"

	"github.com/ironbell/sourced/pkg/sourced/event"
)

const (
	expectedAny      = -1
	expectedNoStream = -2
)

// ExpectedVersion declares what the caller believes the aggregate stream
// looks like when appending, for optimistic concurrency control.
type ExpectedVersion struct {
	value int64
}

// Any returns an ExpectedVersion that skips version validation.
func Any() ExpectedVersion {
	return ExpectedVersion{value: expectedAny}
}

// NoStream returns an ExpectedVersion that requires the aggregate to not
// exist yet. Useful when creating aggregates that must be unique.
func NoStream() ExpectedVersion {
	return ExpectedVersion{value: expectedNoStream}
}

// Exact returns an ExpectedVersion requiring the stream head to be exactly
// the given non-negative version.
func Exact(version int64) ExpectedVersion {
	if version < 0 {
		panic(fmt.Sprintf("exact version must be non-negative, got %d", version))
	}
	return ExpectedVersion{value: version}
}

// IsAny reports whether validation is skipped.
func (ev ExpectedVersion) IsAny() bool { return ev.value == expectedAny }

// IsNoStream reports whether the stream must not exist.
func (ev ExpectedVersion) IsNoStream() bool { return ev.value == expectedNoStream }

// IsExact reports whether a specific head version is required.
func (ev ExpectedVersion) IsExact() bool { return ev.value >= 0 }

// Value returns the exact version, or 0 for Any and NoStream.
func (ev ExpectedVersion) Value() int64 {
	if ev.value >= 0 {
		return ev.value
	}
	return 0
}

// String returns a readable representation.
func (ev ExpectedVersion) String() string {
	switch {
	case ev.IsAny():
		return "Any"
	case ev.IsNoStream():
		return "NoStream"
	default:
		return fmt.Sprintf("Exact(%d)", ev.value)
	}
}

// EventStore is an append-only log of event envelopes with a global order.
type EventStore interface {
	// Append atomically appends the events, which must all belong to the
	// same aggregate and carry consecutive aggregate versions. The expected
	// version gates the append; a mismatch fails with a version-conflict
	// error and persists nothing. Returns the assigned global positions.
	Append(ctx context.Context, expected ExpectedVersion, events []event.Envelope) ([]int64, error)

	// ReadStream returns all events for one aggregate in version order.
	ReadStream(ctx context.Context, aggregateType, aggregateID string) ([]event.Envelope, error)

	// ReadAll returns up to limit events with a global position greater
	// than fromPosition, in position order.
	ReadAll(ctx context.Context, fromPosition int64, limit int) ([]event.Envelope, error)

	// Close releases any resources.
	Close() error
}

// validateBatch checks the invariants Append relies on: a non-empty batch
// belonging to a single aggregate with consecutive versions.
func validateBatch(events []event.Envelope) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	first := events[0].Meta
	for i, env := range events {
		m := env.Meta
		if m.AggregateType != first.AggregateType || m.AggregateID != first.AggregateID {
			return fmt.Errorf("append batch spans multiple aggregates: %s/%s and %s/%s",
				first.AggregateType, first.AggregateID, m.AggregateType, m.AggregateID)
		}
		if m.AggregateVersion != first.AggregateVersion+int64(i) {
			return fmt.Errorf("append batch versions not consecutive at index %d", i)
		}
	}
	return nil
}
