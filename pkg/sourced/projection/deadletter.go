package projection

import (
	"context"
	"sync"
	"time"

	"github.com/ironbell/sourced/pkg/sourced/deadletter"
	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/observability"
)

// DeadLetterPredicate decides whether a failed event should be diverted to
// the dead-letter store. attempts is the attempt count of the failing try.
type DeadLetterPredicate func(err error, attempts int) bool

// DefaultDeadLetterPredicate dead-letters after three failed attempts.
func DefaultDeadLetterPredicate(_ error, attempts int) bool {
	return attempts >= 3
}

// DefaultTrackingLimit bounds the capability's per-event failure
// bookkeeping. When a map reaches the limit it starts a fresh window; the
// worst case is a second dead-letter entry for an event that keeps failing
// across windows.
const DefaultTrackingLimit = 1024

// DeadLetterCapability diverts permanently failing events to a durable
// store. Diversion is a side recording: the capability never changes the
// engine's error propagation, and each event is stored at most once per
// tracking window.
type DeadLetterCapability struct {
	store   deadletter.Store
	pred    DeadLetterPredicate
	metrics observability.MetricsRecorder
	limit   int

	mu          sync.Mutex
	host        HostContext
	seen        map[string]struct{}
	firstFailed map[string]time.Time
}

// DeadLetterOption configures a DeadLetterCapability.
type DeadLetterOption func(*DeadLetterCapability)

// WithDeadLetterPredicate overrides the diversion predicate.
func WithDeadLetterPredicate(pred DeadLetterPredicate) DeadLetterOption {
	return func(d *DeadLetterCapability) {
		if pred != nil {
			d.pred = pred
		}
	}
}

// WithDeadLetterMetrics sets the metrics recorder for diversion counts.
func WithDeadLetterMetrics(m observability.MetricsRecorder) DeadLetterOption {
	return func(d *DeadLetterCapability) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithDeadLetterTrackingLimit overrides the failure bookkeeping bound.
func WithDeadLetterTrackingLimit(limit int) DeadLetterOption {
	return func(d *DeadLetterCapability) {
		if limit > 0 {
			d.limit = limit
		}
	}
}

// NewDeadLetterCapability creates a dead-letter capability writing to store.
func NewDeadLetterCapability(store deadletter.Store, opts ...DeadLetterOption) *DeadLetterCapability {
	d := &DeadLetterCapability{
		store:       store,
		pred:        DefaultDeadLetterPredicate,
		metrics:     observability.NoopMetrics{},
		limit:       DefaultTrackingLimit,
		seen:        make(map[string]struct{}),
		firstFailed: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach implements Capability.
func (d *DeadLetterCapability) Attach(host HostContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.host = host
	return nil
}

// Detach implements Capability.
func (d *DeadLetterCapability) Detach() error { return nil }

// BeforeApply implements Capability.
func (d *DeadLetterCapability) BeforeApply(context.Context, event.Envelope) error { return nil }

// AfterApply implements Capability. A success clears the failure tracking
// for the event, so a later unrelated failure starts a fresh window.
func (d *DeadLetterCapability) AfterApply(_ context.Context, env event.Envelope, _ Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.firstFailed, env.Meta.EventID)
	return nil
}

// OnError implements Capability. It records the failure and, when the
// predicate fires, stores the event exactly once. Store failures are logged
// and swallowed; diversion never masks the processing error.
func (d *DeadLetterCapability) OnError(ctx context.Context, env event.Envelope, procErr error) error {
	if errors.Is(procErr, errors.KindCircuitOpen) {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	eventID := env.Meta.EventID
	first, ok := d.firstFailed[eventID]
	if !ok {
		if len(d.firstFailed) >= d.limit {
			d.firstFailed = make(map[string]time.Time, d.limit)
		}
		first = time.Now().UTC()
		d.firstFailed[eventID] = first
	}

	attempts := errors.AttemptCount(procErr)
	if !d.pred(procErr, attempts) {
		return nil
	}
	if _, stored := d.seen[eventID]; stored {
		return nil
	}

	entry := deadletter.NewEntry(d.host.Projection, env, procErr, attempts, first)
	if err := d.store.Store(ctx, entry); err != nil {
		if d.host.Logger != nil {
			d.host.Logger.Warn("dead-letter store failed",
				"projection", d.host.Projection,
				"event_id", eventID,
				"error", err.Error(),
			)
		}
		return nil
	}

	if len(d.seen) >= d.limit {
		d.seen = make(map[string]struct{}, d.limit)
	}
	d.seen[eventID] = struct{}{}
	delete(d.firstFailed, eventID)
	observability.LogDeadLettered(d.host.Logger, d.host.Projection, eventID, attempts)
	d.metrics.RecordDeadLetter(ctx, d.host.Projection)
	return nil
}
