// Package checkpoint provides durable progress markers for projections.
//
// A checkpoint is the coarse, cheap recovery primitive: the latest position
// a projection has fully applied, together with its state at that moment.
// Only the newest checkpoint per projection is kept; saving overwrites.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Record is the persisted progress marker for one projection.
type Record struct {
	// Projection is the owning projection's name.
	Projection string `json:"projection"`

	// Position is the global position of the last applied event.
	Position int64 `json:"position"`

	// State is the projection state at Position, already serialized.
	State json.RawMessage `json:"state"`

	// EventCount is the number of events applied since the counter started.
	EventCount int64 `json:"event_count"`

	// Timestamp is when the checkpoint was taken.
	Timestamp time.Time `json:"timestamp"`
}

// Marshal serializes a record to JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal deserializes a record from JSON.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// New creates a checkpoint record for the given projection.
// State must already be serialized.
func New(projection string, position int64, state []byte, eventCount int64) Record {
	return Record{
		Projection: projection,
		Position:   position,
		State:      state,
		EventCount: eventCount,
		Timestamp:  time.Now().UTC(),
	}
}

// Store persists checkpoints for crash recovery.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores the checkpoint for a projection, overwriting any
	// previous one.
	Save(ctx context.Context, rec Record) error

	// Load retrieves the checkpoint for a projection.
	// Returns ErrNotFound if none exists.
	Load(ctx context.Context, projection string) (Record, error)

	// Delete removes the checkpoint for a projection.
	// Returns nil if none exists.
	Delete(ctx context.Context, projection string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
