// Package store provides the pluggable persistence contracts of the
// pipeline: a key-by-name projection state store, an append-only event
// store with optimistic concurrency, and a repository tying aggregates to
// the event store.
//
// Implementations must be safe for concurrent use, but the pipeline design
// assumes a single writer per projection name and per aggregate stream.
package store

import (
	"context"
	"errors"
)

// Sentinel errors shared by store implementations.
var (
	// ErrNotFound indicates no state exists for the requested key.
	ErrNotFound = errors.New("state not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrNoEvents indicates an attempt to append zero events.
	ErrNoEvents = errors.New("no events to append")
)

// StateStore persists projection read-model state keyed by projection name.
type StateStore interface {
	// Load retrieves the state for a projection.
	// Returns ErrNotFound if no state exists.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save stores the state for a projection, overwriting any previous value.
	Save(ctx context.Context, name string, state []byte) error

	// Delete removes the state for a projection.
	// Returns nil if no state exists.
	Delete(ctx context.Context, name string) error

	// Close releases any resources.
	Close() error
}
