package projection

import (
	"context"
	"time"

	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/observability"
)

// RetryingEngine wraps an Engine with a retry strategy. Each failed attempt
// is classified by the strategy; transient failures are retried with
// exponential backoff, everything else propagates immediately.
//
// The attempt number is threaded into every processing error, so error hooks
// such as the dead-letter capability observe the true attempt count.
type RetryingEngine[S any] struct {
	engine   *Engine[S]
	strategy *errors.Strategy
}

// NewRetryingEngine wraps the engine with the given retry configuration.
// Zero config fields fall back to errors.DefaultRetry.
func NewRetryingEngine[S any](engine *Engine[S], cfg errors.RetryConfig) *RetryingEngine[S] {
	return &RetryingEngine[S]{
		engine:   engine,
		strategy: errors.NewStrategy(cfg),
	}
}

// Engine returns the wrapped engine.
func (r *RetryingEngine[S]) Engine() *Engine[S] {
	return r.engine
}

// Strategy returns the retry strategy in effect.
func (r *RetryingEngine[S]) Strategy() *errors.Strategy {
	return r.strategy
}

// ProcessEvent processes one event, retrying per the strategy. The error
// returned is the one from the final attempt. Backoff waits respect context
// cancellation.
func (r *RetryingEngine[S]) ProcessEvent(ctx context.Context, env event.Envelope) error {
	if !r.engine.InterestedIn(env.EventType) {
		return nil
	}

	for attempt := 1; ; attempt++ {
		err := r.engine.process(ctx, env, attempt)
		if err == nil {
			return nil
		}
		if !r.strategy.ShouldRetry(err, attempt) {
			return err
		}

		delay := r.strategy.Delay(attempt)
		observability.LogRetryScheduled(r.engine.logger, r.engine.name, attempt+1, delay)
		r.engine.metrics.RecordRetry(ctx, r.engine.name, attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Rebuild resets the projection and replays the stream, retrying each event
// per the strategy.
func (r *RetryingEngine[S]) Rebuild(ctx context.Context, stream Stream) error {
	return r.engine.rebuildWith(ctx, stream, r.ProcessEvent)
}

// Resume replays the stream without resetting state, retrying each event per
// the strategy.
func (r *RetryingEngine[S]) Resume(ctx context.Context, stream Stream) error {
	return r.engine.resumeWith(ctx, stream, r.ProcessEvent)
}
