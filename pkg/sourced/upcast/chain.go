// Package upcast migrates event payloads from old schema versions to the
// current one through a chain of single-step upcasters.
//
// Version numbering starts at 1. A chain with upcasters registered for
// source versions 1 and 2 has a latest version of 3: a v1 payload passes
// through both steps, a v2 payload through the second only, and a v3 payload
// is dispatched unchanged. A gap in the chain is an error the moment it is
// hit; partially upcast payloads are never returned.
package upcast

import (
	"sync"

	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
)

// Func migrates a payload from its source version to source version + 1.
// It receives the envelope metadata read-only for context and must not
// mutate the input payload; it returns the migrated payload.
type Func func(payload any, meta event.Metadata) (any, error)

type chainKey struct {
	eventType     string
	sourceVersion int
}

// Chain holds registered upcasters and applies them in version order.
// A Chain is safe for concurrent use after registration.
type Chain struct {
	mu     sync.RWMutex
	steps  map[chainKey]Func
	latest map[string]int // event type -> 1 + max registered source version
}

// NewChain creates an empty upcaster chain.
func NewChain() *Chain {
	return &Chain{
		steps:  make(map[chainKey]Func),
		latest: make(map[string]int),
	}
}

// Register adds an upcaster migrating eventType payloads from sourceVersion
// to sourceVersion+1. Registering a second upcaster for the same pair fails.
func (c *Chain) Register(eventType string, sourceVersion int, fn Func) error {
	if eventType == "" || sourceVersion < 1 || fn == nil {
		return errors.Newf(errors.KindInvalidArguments,
			"upcaster registration requires an event type, a source version >= 1 and a function")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := chainKey{eventType: eventType, sourceVersion: sourceVersion}
	if _, exists := c.steps[key]; exists {
		return &errors.DuplicateUpcasterError{EventType: eventType, SourceVersion: sourceVersion}
	}
	c.steps[key] = fn

	if sourceVersion+1 > c.latest[eventType] {
		c.latest[eventType] = sourceVersion + 1
	}
	return nil
}

// LatestVersion returns the version payloads of the given type are migrated
// to. Types with no registered upcasters are already at version 1.
func (c *Chain) LatestVersion(eventType string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.latest[eventType]; ok {
		return v
	}
	return 1
}

// Upcast migrates the envelope's payload to the latest registered version.
// Envelopes already at or past the latest version are returned unchanged.
// If any intermediate step is missing the original envelope is returned
// together with a MissingUpcasterError; the caller never sees a payload that
// was only partially migrated.
func (c *Chain) Upcast(env event.Envelope) (event.Envelope, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target, ok := c.latest[env.EventType]
	if !ok {
		return env, nil
	}
	from := env.SchemaVersion()
	if from >= target {
		return env, nil
	}

	payload := env.Payload
	for v := from; v < target; v++ {
		fn, ok := c.steps[chainKey{eventType: env.EventType, sourceVersion: v}]
		if !ok {
			return env, &errors.MissingUpcasterError{EventType: env.EventType, From: v, To: target}
		}
		next, err := fn(payload, env.Meta)
		if err != nil {
			return env, errors.Wrap(errors.KindProcessingFailed, "upcaster failed", err)
		}
		payload = next
	}
	return env.WithPayload(payload, target), nil
}
