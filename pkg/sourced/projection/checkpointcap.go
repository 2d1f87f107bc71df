package projection

import (
	"context"
	"sync"

	"github.com/ironbell/sourced/pkg/sourced/checkpoint"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/observability"
)

// defaultCheckpointInterval is how many applied events pass between
// checkpoints when no interval is configured.
const defaultCheckpointInterval = 100

// CheckpointCapability saves a progress marker every N applied events.
// Saves are best-effort: a failed save is logged and never fails the event,
// since the state itself was already persisted by the engine.
type CheckpointCapability struct {
	store    checkpoint.Store
	interval int64
	metrics  observability.MetricsRecorder

	mu   sync.Mutex
	host HostContext
}

// CheckpointOption configures a CheckpointCapability.
type CheckpointOption func(*CheckpointCapability)

// WithCheckpointMetrics sets the metrics recorder for checkpoint sizes.
func WithCheckpointMetrics(m observability.MetricsRecorder) CheckpointOption {
	return func(c *CheckpointCapability) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCheckpointCapability creates a checkpoint capability writing to store
// every interval applied events. A non-positive interval falls back to the
// default of 100.
func NewCheckpointCapability(store checkpoint.Store, interval int64, opts ...CheckpointOption) *CheckpointCapability {
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}
	c := &CheckpointCapability{
		store:    store,
		interval: interval,
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval returns the configured checkpoint interval.
func (c *CheckpointCapability) Interval() int64 {
	return c.interval
}

// Attach implements Capability.
func (c *CheckpointCapability) Attach(host HostContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = host
	return nil
}

// Detach implements Capability.
func (c *CheckpointCapability) Detach() error { return nil }

// BeforeApply implements Capability.
func (c *CheckpointCapability) BeforeApply(context.Context, event.Envelope) error { return nil }

// AfterApply implements Capability. It saves a checkpoint whenever the
// engine's applied-event count crosses the interval.
func (c *CheckpointCapability) AfterApply(ctx context.Context, _ event.Envelope, res Result) error {
	if res.EventsProcessed%c.interval != 0 {
		return nil
	}

	c.mu.Lock()
	host := c.host
	c.mu.Unlock()

	rec := checkpoint.New(host.Projection, res.Position, res.State, res.EventsProcessed)
	if err := c.store.Save(ctx, rec); err != nil {
		observability.LogCheckpointError(host.Logger, host.Projection, "save", err)
		return nil
	}

	observability.LogCheckpoint(host.Logger, host.Projection, res.Position, len(res.State))
	c.metrics.RecordCheckpoint(ctx, host.Projection, int64(len(res.State)))
	return nil
}

// OnError implements Capability.
func (c *CheckpointCapability) OnError(context.Context, event.Envelope, error) error { return nil }
