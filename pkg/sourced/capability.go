package sourced

import (
	"context"

	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
)

// Host is the narrow view of an aggregate a capability may see when
// attached. It exposes identity and version accessors plus the serialized
// state when the aggregate supports snapshots; never the whole Root.
type Host interface {
	// ID returns the aggregate identity.
	ID() string

	// AggregateType returns the aggregate type name.
	AggregateType() string

	// Version returns the current aggregate version.
	Version() int64

	// StateBytes returns the aggregate's serialized state, or false when no
	// state serializer is available.
	StateBytes() ([]byte, bool)
}

// StateBytes implements Host for Root.
func (r *Root) StateBytes() ([]byte, bool) {
	if r.state == nil {
		return nil, false
	}
	data, err := r.state.MarshalState()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Capability is a pluggable behavior unit observing an aggregate's state
// transitions. Hooks run in registration order from the aggregate's own
// Apply implementation; a capability never replaces host methods.
type Capability interface {
	// Attach is called once when the capability is added to a host.
	Attach(host Host) error

	// Detach is called when the capability is removed.
	Detach() error

	// BeforeApply runs before the event is dispatched. Returning an error
	// aborts the apply.
	BeforeApply(ctx context.Context, env event.Envelope) error

	// AfterApply runs after the event was applied and recorded.
	AfterApply(ctx context.Context, env event.Envelope) error

	// OnError runs when dispatch fails. Its error is ignored so it cannot
	// mask the apply error.
	OnError(ctx context.Context, env event.Envelope, applyErr error) error
}

// BaseCapability provides no-op hook implementations. Embed it to implement
// only the hooks a capability cares about.
type BaseCapability struct{}

// Attach implements Capability.
func (BaseCapability) Attach(Host) error { return nil }

// Detach implements Capability.
func (BaseCapability) Detach() error { return nil }

// BeforeApply implements Capability.
func (BaseCapability) BeforeApply(context.Context, event.Envelope) error { return nil }

// AfterApply implements Capability.
func (BaseCapability) AfterApply(context.Context, event.Envelope) error { return nil }

// OnError implements Capability.
func (BaseCapability) OnError(context.Context, event.Envelope, error) error { return nil }

// AddCapability attaches a named capability. Names are unique per host;
// adding a second capability under an existing name fails, which also keeps
// double-installation idempotent in effect.
func (r *Root) AddCapability(name string, c Capability) error {
	if name == "" || c == nil {
		return errors.New(errors.KindInvalidArguments, "capability requires a name and an implementation")
	}
	if _, exists := r.caps[name]; exists {
		return errors.Newf(errors.KindInvalidArguments, "capability %q already attached", name)
	}
	if err := c.Attach(r); err != nil {
		return err
	}
	r.caps[name] = c
	r.capOrder = append(r.capOrder, name)
	return nil
}

// RemoveCapability detaches and discards a named capability.
func (r *Root) RemoveCapability(name string) error {
	c, exists := r.caps[name]
	if !exists {
		return errors.Newf(errors.KindCapabilityNotAttached, "capability %q is not attached", name)
	}
	if err := c.Detach(); err != nil {
		return err
	}
	delete(r.caps, name)
	for i, n := range r.capOrder {
		if n == name {
			r.capOrder = append(r.capOrder[:i], r.capOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Capability returns the named capability, or false when absent. This is the
// explicit accessor for callers that need a specific capability back.
func (r *Root) Capability(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}
