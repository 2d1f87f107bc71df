// Package event defines the immutable envelope that flows through the
// aggregate and projection pipeline.
//
// Envelopes are value types: enrichment helpers return a modified copy and
// never mutate the receiver. Payloads are opaque to this package; they are
// serialized by the concrete stores, not here.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Metadata carries the envelope's identifying and positional fields.
type Metadata struct {
	EventID          string    `json:"event_id"`
	Timestamp        time.Time `json:"timestamp"`
	AggregateID      string    `json:"aggregate_id,omitempty"`
	AggregateType    string    `json:"aggregate_type,omitempty"`
	AggregateVersion int64     `json:"aggregate_version,omitempty"`
	EventVersion     int       `json:"event_version,omitempty"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	CausationID      string    `json:"causation_id,omitempty"`
	Position         int64     `json:"position,omitempty"`
}

// Envelope is an immutable domain event record.
// Once constructed it must not be modified; use the With* helpers to derive
// an enriched copy.
type Envelope struct {
	EventType string   `json:"event_type"`
	Payload   any      `json:"payload"`
	Meta      Metadata `json:"metadata"`
}

// Option configures envelope creation.
type Option func(*Metadata)

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(m *Metadata) {
		m.EventID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now().UTC()).
func WithTimestamp(t time.Time) Option {
	return func(m *Metadata) {
		m.Timestamp = t
	}
}

// WithEventVersion sets the payload schema version (default: 1).
func WithEventVersion(v int) Option {
	return func(m *Metadata) {
		m.EventVersion = v
	}
}

// WithCorrelationID sets the correlation ID linking related events.
func WithCorrelationID(id string) Option {
	return func(m *Metadata) {
		m.CorrelationID = id
	}
}

// WithCausationID sets the ID of the event or command that caused this one.
func WithCausationID(id string) Option {
	return func(m *Metadata) {
		m.CausationID = id
	}
}

// New creates an envelope with a fresh event ID and timestamp.
// If no correlation ID is supplied the event ID is used as the root of the
// correlation chain.
func New(eventType string, payload any, opts ...Option) Envelope {
	meta := Metadata{
		EventID:      uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		EventVersion: 1,
	}
	for _, opt := range opts {
		opt(&meta)
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = meta.EventID
	}
	return Envelope{
		EventType: eventType,
		Payload:   payload,
		Meta:      meta,
	}
}

// NewFromParent creates an envelope caused by a parent event. It inherits the
// parent's correlation ID and records the parent as causation.
func NewFromParent(parent Envelope, eventType string, payload any, opts ...Option) Envelope {
	parentOpts := []Option{
		WithCorrelationID(parent.Meta.CorrelationID),
		WithCausationID(parent.Meta.EventID),
	}
	return New(eventType, payload, append(parentOpts, opts...)...)
}

// WithAggregate returns a copy of the envelope enriched with the producing
// aggregate's identity and post-apply version.
func (e Envelope) WithAggregate(aggregateType, aggregateID string, version int64) Envelope {
	e.Meta.AggregateType = aggregateType
	e.Meta.AggregateID = aggregateID
	e.Meta.AggregateVersion = version
	return e
}

// WithPosition returns a copy of the envelope carrying the global position
// assigned by the event store.
func (e Envelope) WithPosition(pos int64) Envelope {
	e.Meta.Position = pos
	return e
}

// WithPayload returns a copy of the envelope carrying a replacement payload
// at the given schema version. Used by the upcaster chain.
func (e Envelope) WithPayload(payload any, eventVersion int) Envelope {
	e.Payload = payload
	e.Meta.EventVersion = eventVersion
	return e
}

// SchemaVersion returns the envelope's payload schema version, defaulting to
// 1 when unset.
func (e Envelope) SchemaVersion() int {
	if e.Meta.EventVersion <= 0 {
		return 1
	}
	return e.Meta.EventVersion
}
