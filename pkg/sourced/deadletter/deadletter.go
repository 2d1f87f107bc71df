// Package deadletter provides durable storage for events that could not be
// processed by a projection.
//
// A dead-letter entry is a side recording: storing one never changes the
// caller's retry or propagation behavior. Entries carry enough context for
// manual or automated replay and are immutable once stored.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ironbell/sourced/pkg/sourced/event"
)

// Entry records one permanently failing event with full failure context.
type Entry struct {
	// ID uniquely identifies this entry.
	ID string `json:"id"`

	// ProjectionName is the projection that failed to process the event.
	ProjectionName string `json:"projection_name"`

	// Event is the failing envelope.
	Event event.Envelope `json:"event"`

	// ErrorMessage is the final error's message.
	ErrorMessage string `json:"error_message"`

	// AttemptCount is the number of attempts made before dead-lettering.
	AttemptCount int `json:"attempt_count"`

	// FirstFailedAt is when the event first failed.
	FirstFailedAt time.Time `json:"first_failed_at"`

	// LastFailedAt is when the event last failed.
	LastFailedAt time.Time `json:"last_failed_at"`

	// Metadata carries additional context for operators.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEntry creates an entry for a failing event.
func NewEntry(projection string, env event.Envelope, procErr error, attempts int, firstFailedAt time.Time) Entry {
	now := time.Now().UTC()
	if firstFailedAt.IsZero() {
		firstFailedAt = now
	}
	return Entry{
		ID:             uuid.New().String(),
		ProjectionName: projection,
		Event:          env,
		ErrorMessage:   procErr.Error(),
		AttemptCount:   attempts,
		FirstFailedAt:  firstFailedAt,
		LastFailedAt:   now,
	}
}

// Store persists dead-letter entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Store adds an entry.
	Store(ctx context.Context, entry Entry) error

	// ByProjection returns all entries for a projection, oldest first.
	ByProjection(ctx context.Context, projection string) ([]Entry, error)

	// Retry removes the entry and returns its event for reprocessing.
	// Returns ErrNotFound if the entry doesn't exist.
	Retry(ctx context.Context, id string) (event.Envelope, error)

	// Delete permanently removes an entry.
	// Returns nil if the entry doesn't exist.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases any resources.
	Close() error
}

// Sentinel errors for dead-letter stores.
var (
	// ErrNotFound indicates the entry doesn't exist.
	ErrNotFound = errors.New("dead-letter entry not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("dead-letter store closed")
)
