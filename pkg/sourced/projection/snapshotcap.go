package projection

import (
	"context"
	"sync"
	"time"

	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/snapshot"
)

// defaultSnapshotInterval is how many applied events pass between snapshots
// when no interval is configured.
const defaultSnapshotInterval = 1000

// SnapshotCapability captures versioned snapshots of the projection state
// every N applied events. Unlike checkpoints, every snapshot is kept under
// its own version, giving a history of state captures to roll back to.
// Saves are best-effort and never fail the event.
type SnapshotCapability struct {
	store    snapshot.Store
	interval int64

	mu      sync.Mutex
	host    HostContext
	version int64
}

// NewSnapshotCapability creates a snapshot capability writing to store every
// interval applied events. A non-positive interval falls back to the default
// of 1000.
func NewSnapshotCapability(store snapshot.Store, interval int64) *SnapshotCapability {
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}
	return &SnapshotCapability{
		store:    store,
		interval: interval,
	}
}

// Interval returns the configured snapshot interval.
func (s *SnapshotCapability) Interval() int64 {
	return s.interval
}

// Attach implements Capability.
func (s *SnapshotCapability) Attach(host HostContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = host
	return nil
}

// Detach implements Capability.
func (s *SnapshotCapability) Detach() error { return nil }

// BeforeApply implements Capability.
func (s *SnapshotCapability) BeforeApply(context.Context, event.Envelope) error { return nil }

// AfterApply implements Capability. It captures a snapshot whenever the
// engine's applied-event count crosses the interval.
func (s *SnapshotCapability) AfterApply(ctx context.Context, env event.Envelope, res Result) error {
	if res.EventsProcessed%s.interval != 0 {
		return nil
	}

	s.mu.Lock()
	s.version++
	snap := snapshot.Snapshot{
		ID:          s.host.Projection,
		Version:     s.version,
		Position:    res.Position,
		State:       res.State,
		Timestamp:   time.Now().UTC(),
		LastEventID: env.Meta.EventID,
	}
	host := s.host
	s.mu.Unlock()

	if err := s.store.Save(ctx, snap); err != nil {
		if host.Logger != nil {
			host.Logger.Warn("projection snapshot failed",
				"projection", host.Projection,
				"version", snap.Version,
				"error", err.Error(),
			)
		}
	}
	return nil
}

// OnError implements Capability.
func (s *SnapshotCapability) OnError(context.Context, event.Envelope, error) error { return nil }
