package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/snapshot"
)

// AggregateRoot is the producer-side contract the repository persists.
// sourced.Root satisfies it.
type AggregateRoot interface {
	ID() string
	AggregateType() string
	Version() int64
	InitialVersion() int64
	DomainEvents() []event.Envelope
	Commit()
	CheckVersion(expected int64) error
	LoadFromHistory(ctx context.Context, events []event.Envelope) error
}

// SnapshotAggregate extends AggregateRoot with snapshot support for the
// fast-recovery load path.
type SnapshotAggregate interface {
	AggregateRoot
	CreateSnapshot() (snapshot.Snapshot, error)
	RestoreFromSnapshot(snap snapshot.Snapshot) error
	ApplyHistory(ctx context.Context, events []event.Envelope) error
}

// Repository loads aggregates from the event store and saves their pending
// events under optimistic concurrency. Commit happens only after the append
// succeeded durably.
type Repository struct {
	events        EventStore
	snaps         snapshot.Store
	snapshotEvery int64
	logger        *slog.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithSnapshotStore enables the snapshot fast path: loads consult the store
// first, and saves capture a snapshot every `every` committed versions.
func WithSnapshotStore(snaps snapshot.Store, every int64) RepositoryOption {
	return func(r *Repository) {
		r.snaps = snaps
		r.snapshotEvery = every
	}
}

// WithRepositoryLogger injects a structured logger.
func WithRepositoryLogger(logger *slog.Logger) RepositoryOption {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a repository backed by the given event store.
func NewRepository(events EventStore, opts ...RepositoryOption) *Repository {
	r := &Repository{events: events}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load rehydrates the aggregate from its full event log.
func (r *Repository) Load(ctx context.Context, agg AggregateRoot) error {
	events, err := r.events.ReadStream(ctx, agg.AggregateType(), agg.ID())
	if err != nil {
		return fmt.Errorf("read stream for %s %s: %w", agg.AggregateType(), agg.ID(), err)
	}
	return agg.LoadFromHistory(ctx, events)
}

// LoadWithSnapshot rehydrates the aggregate from its latest snapshot plus
// the event tail recorded after it. Falls back to a full replay when no
// snapshot exists or no snapshot store is configured.
func (r *Repository) LoadWithSnapshot(ctx context.Context, agg SnapshotAggregate) error {
	if r.snaps == nil {
		return r.Load(ctx, agg)
	}

	snap, err := r.snaps.Latest(ctx, agg.ID())
	if errors.Is(err, snapshot.ErrNotFound) {
		return r.Load(ctx, agg)
	}
	if err != nil {
		return fmt.Errorf("load latest snapshot for %s: %w", agg.ID(), err)
	}

	if err := agg.RestoreFromSnapshot(snap); err != nil {
		return err
	}

	events, err := r.events.ReadStream(ctx, agg.AggregateType(), agg.ID())
	if err != nil {
		return fmt.Errorf("read stream for %s %s: %w", agg.AggregateType(), agg.ID(), err)
	}
	tail := events[:0:0]
	for _, env := range events {
		if env.Meta.AggregateVersion > snap.Version {
			tail = append(tail, env)
		}
	}
	return agg.ApplyHistory(ctx, tail)
}

// Save persists the aggregate's pending events, expecting the stream head to
// match the aggregate's committed baseline.
func (r *Repository) Save(ctx context.Context, agg AggregateRoot) error {
	return r.SaveExpected(ctx, agg, agg.InitialVersion())
}

// SaveExpected persists the aggregate's pending events after checking the
// caller's expected baseline version against the aggregate. The aggregate
// commits only after the append succeeded.
func (r *Repository) SaveExpected(ctx context.Context, agg AggregateRoot, expected int64) error {
	if err := agg.CheckVersion(expected); err != nil {
		return err
	}

	events := agg.DomainEvents()
	if len(events) == 0 {
		return nil
	}

	ev := Exact(expected)
	if expected == 0 {
		ev = NoStream()
	}
	if _, err := r.events.Append(ctx, ev, events); err != nil {
		return err
	}
	agg.Commit()

	if r.logger != nil {
		r.logger.Info("aggregate saved",
			slog.String("aggregate_type", agg.AggregateType()),
			slog.String("aggregate_id", agg.ID()),
			slog.Int("events", len(events)),
			slog.Int64("version", agg.Version()),
		)
	}
	return nil
}

// SaveWithSnapshot saves like Save and additionally captures a snapshot when
// the committed version crosses the configured interval. Snapshot failures
// are best-effort: the save has already succeeded, so they are logged and
// swallowed.
func (r *Repository) SaveWithSnapshot(ctx context.Context, agg SnapshotAggregate) error {
	before := agg.InitialVersion()
	if err := r.Save(ctx, agg); err != nil {
		return err
	}
	if r.snaps == nil || r.snapshotEvery <= 0 {
		return nil
	}
	if agg.Version()/r.snapshotEvery == before/r.snapshotEvery {
		return nil
	}

	snap, err := agg.CreateSnapshot()
	if err == nil {
		err = r.snaps.Save(ctx, snap)
	}
	if err != nil && r.logger != nil {
		r.logger.Warn("snapshot capture failed",
			slog.String("aggregate_id", agg.ID()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
