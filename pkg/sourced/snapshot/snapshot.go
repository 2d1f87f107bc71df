// Package snapshot provides versioned state captures and their stores.
//
// A snapshot is a durable, less-frequent capture of full state keyed by an
// identity (an aggregate ID or a projection name). Each save carries a
// monotonically increasing version; Latest returns the highest version
// regardless of position, which is what recovery wants.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// Snapshot is a durable capture of serialized state.
type Snapshot struct {
	// ID identifies the owner: an aggregate ID or a projection name.
	ID string `json:"id"`

	// AggregateType is set for aggregate snapshots and empty for
	// projection snapshots.
	AggregateType string `json:"aggregate_type,omitempty"`

	// Version is the owner's version at capture time. For projections this
	// is the snapshot counter, not an event count.
	Version int64 `json:"version"`

	// Position is the last applied global position, when known.
	Position int64 `json:"position,omitempty"`

	// State is the serialized state.
	State []byte `json:"state"`

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// LastEventID is the ID of the last event folded into State, when known.
	LastEventID string `json:"last_event_id,omitempty"`
}

// Store persists snapshots. Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a snapshot. Saving the same (ID, Version) twice overwrites.
	Save(ctx context.Context, snap Snapshot) error

	// Latest returns the highest-version snapshot for the given ID.
	// Returns ErrNotFound if no snapshot exists.
	Latest(ctx context.Context, id string) (Snapshot, error)

	// Delete removes all snapshots for the given ID.
	// Returns nil if none exist.
	Delete(ctx context.Context, id string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors for snapshot stores.
var (
	// ErrNotFound indicates no snapshot exists for the requested ID.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("snapshot store closed")
)
