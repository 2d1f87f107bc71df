// Package projection implements resilient read-model maintenance: an engine
// that feeds events through a projection's apply function, persists the
// resulting state, and runs pluggable capabilities (circuit breaker,
// dead-letter diversion, checkpoints, snapshots) around each event.
//
// The engine serializes processing per projection. Running two engines for
// the same projection name against the same state store is not supported.
package projection

import (
	"context"

	"github.com/ironbell/sourced/pkg/sourced/event"
)

// Projection computes a read model from a stream of events. S is the state
// type; it must round-trip through encoding/json because the engine persists
// it as JSON in a store.StateStore.
//
// Apply must be pure with respect to its inputs: it receives the current
// state and returns the next state without touching external systems. Side
// effects belong in capabilities or after-apply hooks.
type Projection[S any] interface {
	// Name identifies the projection. It keys the persisted state, the
	// checkpoints, and the dead-letter entries.
	Name() string

	// EventTypes returns the event types this projection consumes.
	// An empty slice means every event is of interest.
	EventTypes() []string

	// InitialState returns the state a fresh or rebuilt projection starts from.
	InitialState() S

	// Apply folds one event into the state and returns the next state.
	Apply(ctx context.Context, state S, env event.Envelope) (S, error)
}

// FuncProjection adapts plain functions to the Projection interface.
// Useful for small projections and tests.
type FuncProjection[S any] struct {
	ProjectionName string
	Types          []string
	Initial        func() S
	ApplyFunc      func(ctx context.Context, state S, env event.Envelope) (S, error)
}

// Name implements Projection.
func (p *FuncProjection[S]) Name() string { return p.ProjectionName }

// EventTypes implements Projection.
func (p *FuncProjection[S]) EventTypes() []string { return p.Types }

// InitialState implements Projection.
func (p *FuncProjection[S]) InitialState() S {
	if p.Initial == nil {
		var zero S
		return zero
	}
	return p.Initial()
}

// Apply implements Projection.
func (p *FuncProjection[S]) Apply(ctx context.Context, state S, env event.Envelope) (S, error) {
	if p.ApplyFunc == nil {
		return state, nil
	}
	return p.ApplyFunc(ctx, state, env)
}
