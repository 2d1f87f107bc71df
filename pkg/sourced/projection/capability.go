package projection

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
)

// HostContext is the narrow view of an engine a capability sees when
// attached: the projection name and the engine's logger, never the engine
// itself.
type HostContext struct {
	Projection string
	Logger     *slog.Logger
}

// Result carries the outcome of a successfully processed event to
// after-apply hooks.
type Result struct {
	// State is the persisted projection state, JSON-encoded.
	State json.RawMessage

	// Position is the global position of the processed event, if known.
	Position int64

	// EventsProcessed is the engine's running count of applied events.
	EventsProcessed int64
}

// Capability is a pluggable behavior unit observing an engine's event
// processing. Before and error hooks run sequentially in registration
// order; after hooks run concurrently and the engine waits for all of them.
type Capability interface {
	// Attach is called once when the capability is added to an engine.
	Attach(host HostContext) error

	// Detach is called when the capability is removed.
	Detach() error

	// BeforeApply runs before the projection's apply function. Returning an
	// error fails the event without invoking the projection.
	BeforeApply(ctx context.Context, env event.Envelope) error

	// AfterApply runs after the new state was persisted.
	AfterApply(ctx context.Context, env event.Envelope, res Result) error

	// OnError runs when processing fails. The error it receives is the
	// error the engine will return; its own error is ignored so it cannot
	// mask the processing error.
	OnError(ctx context.Context, env event.Envelope, procErr error) error
}

// BaseCapability provides no-op hook implementations. Embed it to implement
// only the hooks a capability cares about.
type BaseCapability struct{}

// Attach implements Capability.
func (BaseCapability) Attach(HostContext) error { return nil }

// Detach implements Capability.
func (BaseCapability) Detach() error { return nil }

// BeforeApply implements Capability.
func (BaseCapability) BeforeApply(context.Context, event.Envelope) error { return nil }

// AfterApply implements Capability.
func (BaseCapability) AfterApply(context.Context, event.Envelope, Result) error { return nil }

// OnError implements Capability.
func (BaseCapability) OnError(context.Context, event.Envelope, error) error { return nil }

// AddCapability attaches a named capability. Names are unique per engine;
// adding a second capability under an existing name fails.
func (e *Engine[S]) AddCapability(name string, c Capability) error {
	if name == "" || c == nil {
		return errors.New(errors.KindInvalidArguments, "capability requires a name and an implementation")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.caps[name]; exists {
		return errors.Newf(errors.KindInvalidArguments, "capability %q already attached", name)
	}
	if err := c.Attach(HostContext{Projection: e.name, Logger: e.logger}); err != nil {
		return err
	}
	e.caps[name] = c
	e.capOrder = append(e.capOrder, name)
	return nil
}

// RemoveCapability detaches and discards a named capability.
func (e *Engine[S]) RemoveCapability(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, exists := e.caps[name]
	if !exists {
		return errors.Newf(errors.KindCapabilityNotAttached, "capability %q is not attached", name)
	}
	if err := c.Detach(); err != nil {
		return err
	}
	delete(e.caps, name)
	for i, n := range e.capOrder {
		if n == name {
			e.capOrder = append(e.capOrder[:i], e.capOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Capability returns the named capability, or false when absent. This is the
// explicit accessor for callers that need a specific capability back.
func (e *Engine[S]) Capability(name string) (Capability, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.caps[name]
	return c, ok
}
