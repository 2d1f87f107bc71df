// Package sourced implements versioned, event-sourced aggregate roots.
//
// A Root tracks its version, its optimistic-concurrency baseline and the
// events applied since the last commit. State transitions happen only
// through Apply, which dispatches to handlers registered at construction
// time in an explicit (event type, schema version) registry. Optional
// cross-cutting behavior attaches through named capabilities with ordered
// before/after hooks; the Root stays authoritative over its own call
// sequence.
package sourced

import (
	"context"
	"log/slog"
	"time"

	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/snapshot"
	"github.com/ironbell/sourced/pkg/sourced/upcast"
)

// HandlerFunc mutates aggregate state in response to one event.
// Handlers must be deterministic: they run both for fresh events and during
// history replay.
type HandlerFunc func(env event.Envelope) error

// StateSerializer is implemented by concrete aggregates that support
// snapshots. MarshalState captures the full domain state; UnmarshalState
// replaces it wholesale.
type StateSerializer interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

type handlerKey struct {
	eventType string
	version   int // 0 means the unversioned fallback handler
}

// Root is a versioned, event-sourced state holder.
// A Root is not safe for concurrent use; events for one aggregate are
// strictly serialized by design.
type Root struct {
	aggregateType  string
	id             string
	version        int64
	initialVersion int64
	pending        []event.Envelope
	lastEventID    string

	handlers  map[handlerKey]HandlerFunc
	upcasters *upcast.Chain

	capOrder []string
	caps     map[string]Capability

	snapshotsEnabled bool
	state            StateSerializer

	logger *slog.Logger
}

// Option configures a Root at construction.
type Option func(*Root)

// WithLogger injects a structured logger. Without it the Root is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Root) {
		r.logger = logger
	}
}

// WithUpcasters wires an upcaster chain into event dispatch. Envelopes with
// an old schema version are migrated before their handler runs.
func WithUpcasters(chain *upcast.Chain) Option {
	return func(r *Root) {
		r.upcasters = chain
	}
}

// WithSnapshots enables snapshot support. The serializer may be supplied by
// the concrete aggregate; enabling snapshots without one makes
// CreateSnapshot fail with a method-not-implemented error rather than a
// feature-not-enabled error.
func WithSnapshots(state StateSerializer) Option {
	return func(r *Root) {
		r.snapshotsEnabled = true
		r.state = state
	}
}

// WithInitialVersion rehydrates the Root at a known committed version.
func WithInitialVersion(version int64) Option {
	return func(r *Root) {
		r.version = version
		r.initialVersion = version
	}
}

// New creates a Root for the given aggregate type and identity.
func New(aggregateType, id string, opts ...Option) *Root {
	r := &Root{
		aggregateType: aggregateType,
		id:            id,
		handlers:      make(map[handlerKey]HandlerFunc),
		caps:          make(map[string]Capability),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers the fallback handler for an event type.
func (r *Root) Handle(eventType string, fn HandlerFunc) {
	r.handlers[handlerKey{eventType: eventType}] = fn
}

// HandleVersion registers a handler for a specific schema version of an
// event type. Dispatch prefers an exact version match and falls back to the
// unversioned handler.
func (r *Root) HandleVersion(eventType string, version int, fn HandlerFunc) {
	r.handlers[handlerKey{eventType: eventType, version: version}] = fn
}

// ID returns the aggregate identity.
func (r *Root) ID() string {
	return r.id
}

// AggregateType returns the aggregate type name.
func (r *Root) AggregateType() string {
	return r.aggregateType
}

// Version returns the count of events ever applied.
func (r *Root) Version() int64 {
	return r.version
}

// InitialVersion returns the version at last commit or load, the baseline
// for optimistic concurrency.
func (r *Root) InitialVersion() int64 {
	return r.initialVersion
}

// HasChanges reports whether uncommitted events are pending.
func (r *Root) HasChanges() bool {
	return len(r.pending) > 0
}

// DomainEvents returns a defensive copy of the uncommitted events in apply
// order.
func (r *Root) DomainEvents() []event.Envelope {
	out := make([]event.Envelope, len(r.pending))
	copy(out, r.pending)
	return out
}

// Commit marks all pending events as persisted: the baseline advances to the
// current version and the pending list empties. Callers must commit only
// after durable persistence succeeded.
func (r *Root) Commit() {
	r.initialVersion = r.version
	r.pending = nil
	if r.logger != nil {
		r.logger.Debug("aggregate committed",
			slog.String("aggregate_type", r.aggregateType),
			slog.String("aggregate_id", r.id),
			slog.Int64("version", r.version),
		)
	}
}

// CheckVersion is the optimistic-concurrency gate. It fails unless the
// committed baseline matches the expected version.
func (r *Root) CheckVersion(expected int64) error {
	if r.initialVersion != expected {
		return &errors.VersionConflictError{
			AggregateType: r.aggregateType,
			AggregateID:   r.id,
			Current:       r.initialVersion,
			Expected:      expected,
		}
	}
	return nil
}

// Apply constructs an envelope for the given event type and payload and
// applies it. Metadata options (correlation, causation, schema version) pass
// through to envelope creation.
func (r *Root) Apply(ctx context.Context, eventType string, payload any, opts ...event.Option) error {
	if eventType == "" {
		return errors.New(errors.KindInvalidArguments, "apply requires an event type")
	}
	return r.ApplyEnvelope(ctx, event.New(eventType, payload, opts...))
}

// ApplyEnvelope applies a pre-built envelope: before-hooks run, the envelope
// is enriched with the aggregate's identity and next version, the matching
// handler dispatches, and only then does the version advance and the event
// join the pending list. A failing handler leaves the Root untouched.
func (r *Root) ApplyEnvelope(ctx context.Context, env event.Envelope) error {
	if env.EventType == "" {
		return errors.New(errors.KindInvalidArguments, "envelope has no event type")
	}

	for _, name := range r.capOrder {
		if err := r.caps[name].BeforeApply(ctx, env); err != nil {
			return err
		}
	}

	next := r.version + 1
	env = env.WithAggregate(r.aggregateType, r.id, next)

	applied, err := r.dispatch(env)
	if err != nil {
		for _, name := range r.capOrder {
			// Hook errors here must not mask the apply error.
			_ = r.caps[name].OnError(ctx, env, err)
		}
		return err
	}

	r.version = next
	r.pending = append(r.pending, applied)
	r.lastEventID = applied.Meta.EventID

	for _, name := range r.capOrder {
		if err := r.caps[name].AfterApply(ctx, applied); err != nil {
			return err
		}
	}

	if r.logger != nil {
		r.logger.Debug("event applied",
			slog.String("aggregate_type", r.aggregateType),
			slog.String("aggregate_id", r.id),
			slog.String("event_type", applied.EventType),
			slog.Int64("version", r.version),
		)
	}
	return nil
}

// LoadFromHistory rehydrates the Root from its complete event log. The
// version resets to zero, every event replays through the normal dispatch
// path without joining the pending list, and the baseline advances to the
// final version. Events stamped with a different aggregate type or identity
// are a hard error.
func (r *Root) LoadFromHistory(ctx context.Context, events []event.Envelope) error {
	r.version = 0
	r.initialVersion = 0
	r.pending = nil
	return r.ApplyHistory(ctx, events)
}

// ApplyHistory replays already-persisted events on top of the current state
// without resetting, advancing the version per event and the baseline to the
// final version. This folds the post-snapshot tail into a restored aggregate.
func (r *Root) ApplyHistory(ctx context.Context, events []event.Envelope) error {
	for _, env := range events {
		if env.Meta.AggregateType != "" && env.Meta.AggregateType != r.aggregateType {
			return errors.Newf(errors.KindTypeMismatch,
				"history event %s belongs to aggregate type %q, not %q",
				env.Meta.EventID, env.Meta.AggregateType, r.aggregateType)
		}
		if env.Meta.AggregateID != "" && env.Meta.AggregateID != r.id {
			return errors.Newf(errors.KindIDMismatch,
				"history event %s belongs to aggregate %q, not %q",
				env.Meta.EventID, env.Meta.AggregateID, r.id)
		}
		if _, err := r.dispatch(env); err != nil {
			return err
		}
		r.version++
		r.lastEventID = env.Meta.EventID
	}

	r.initialVersion = r.version
	if r.logger != nil {
		r.logger.Debug("aggregate rehydrated",
			slog.String("aggregate_type", r.aggregateType),
			slog.String("aggregate_id", r.id),
			slog.Int64("version", r.version),
		)
	}
	return nil
}

// CreateSnapshot captures the aggregate's serialized state at its current
// version.
func (r *Root) CreateSnapshot() (snapshot.Snapshot, error) {
	if !r.snapshotsEnabled {
		return snapshot.Snapshot{}, errors.New(errors.KindFeatureNotEnabled,
			"snapshots were not enabled for this aggregate")
	}
	if r.state == nil {
		return snapshot.Snapshot{}, errors.New(errors.KindMethodNotImplemented,
			"aggregate does not implement a state serializer")
	}

	data, err := r.state.MarshalState()
	if err != nil {
		return snapshot.Snapshot{}, errors.Wrap(errors.KindProcessingFailed, "marshal aggregate state", err)
	}
	return snapshot.Snapshot{
		ID:            r.id,
		AggregateType: r.aggregateType,
		Version:       r.version,
		State:         data,
		Timestamp:     time.Now().UTC(),
		LastEventID:   r.lastEventID,
	}, nil
}

// RestoreFromSnapshot validates the snapshot belongs to this aggregate,
// replaces the state wholesale and resets both version counters to the
// snapshot's version with no pending events.
func (r *Root) RestoreFromSnapshot(snap snapshot.Snapshot) error {
	if !r.snapshotsEnabled {
		return errors.New(errors.KindFeatureNotEnabled,
			"snapshots were not enabled for this aggregate")
	}
	if r.state == nil {
		return errors.New(errors.KindMethodNotImplemented,
			"aggregate does not implement a state serializer")
	}
	if snap.ID != r.id {
		return &errors.SnapshotMismatchError{Kind: errors.KindIDMismatch, Want: r.id, Got: snap.ID}
	}
	if snap.AggregateType != r.aggregateType {
		return &errors.SnapshotMismatchError{Kind: errors.KindTypeMismatch, Want: r.aggregateType, Got: snap.AggregateType}
	}

	if err := r.state.UnmarshalState(snap.State); err != nil {
		return errors.Wrap(errors.KindProcessingFailed, "unmarshal snapshot state", err)
	}
	r.version = snap.Version
	r.initialVersion = snap.Version
	r.pending = nil
	r.lastEventID = snap.LastEventID
	return nil
}

// dispatch migrates the envelope through the upcaster chain when one is
// wired, then resolves the handler: exact schema version first, unversioned
// fallback second.
func (r *Root) dispatch(env event.Envelope) (event.Envelope, error) {
	if r.upcasters != nil {
		upcasted, err := r.upcasters.Upcast(env)
		if err != nil {
			return env, err
		}
		env = upcasted
	}

	fn, ok := r.handlers[handlerKey{eventType: env.EventType, version: env.SchemaVersion()}]
	if !ok {
		fn, ok = r.handlers[handlerKey{eventType: env.EventType}]
	}
	if !ok {
		return env, errors.Newf(errors.KindMethodNotImplemented,
			"no handler registered for event type %q", env.EventType)
	}
	if err := fn(env); err != nil {
		return env, err
	}
	return env, nil
}
