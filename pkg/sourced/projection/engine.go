package projection

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ironbell/sourced/pkg/sourced/checkpoint"
	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/observability"
	"github.com/ironbell/sourced/pkg/sourced/store"
	"github.com/ironbell/sourced/pkg/sourced/upcast"
)

// Engine drives one projection: it filters incoming events, runs the
// capability hooks, applies the projection function, and persists the
// resulting state. Processing is strictly serialized per engine.
type Engine[S any] struct {
	proj       Projection[S]
	states     store.StateStore
	name       string
	interested map[string]struct{} // nil means every event type
	upcasters  *upcast.Chain
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager

	mu        sync.Mutex
	caps      map[string]Capability
	capOrder  []string
	processed int64
}

// EngineOption configures an Engine.
type EngineOption[S any] func(*Engine[S])

// WithEngineLogger sets the engine's structured logger.
func WithEngineLogger[S any](logger *slog.Logger) EngineOption[S] {
	return func(e *Engine[S]) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics recorder.
func WithEngineMetrics[S any](m observability.MetricsRecorder) EngineOption[S] {
	return func(e *Engine[S]) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEngineSpans sets the span manager for tracing.
func WithEngineSpans[S any](sm observability.SpanManager) EngineOption[S] {
	return func(e *Engine[S]) {
		if sm != nil {
			e.spans = sm
		}
	}
}

// WithEngineUpcasters sets the upcaster chain applied to each envelope before
// the projection sees it.
func WithEngineUpcasters[S any](chain *upcast.Chain) EngineOption[S] {
	return func(e *Engine[S]) {
		e.upcasters = chain
	}
}

// NewEngine creates an engine for the given projection, persisting state in
// the given store under the projection's name.
func NewEngine[S any](proj Projection[S], states store.StateStore, opts ...EngineOption[S]) *Engine[S] {
	e := &Engine[S]{
		proj:    proj,
		states:  states,
		name:    proj.Name(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		caps:    make(map[string]Capability),
	}
	if types := proj.EventTypes(); len(types) > 0 {
		e.interested = make(map[string]struct{}, len(types))
		for _, t := range types {
			e.interested[t] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the projection name the engine serves.
func (e *Engine[S]) Name() string {
	return e.name
}

// Processed returns the number of events applied since creation or the last
// rebuild.
func (e *Engine[S]) Processed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed
}

// InterestedIn reports whether the projection consumes the given event type.
func (e *Engine[S]) InterestedIn(eventType string) bool {
	if e.interested == nil {
		return true
	}
	_, ok := e.interested[eventType]
	return ok
}

// State loads and decodes the projection's current persisted state.
// Returns the initial state when none has been persisted yet.
func (e *Engine[S]) State(ctx context.Context) (S, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadState(ctx)
}

// ProcessEvent feeds one event through the pipeline: filter, before hooks,
// apply, persist, after hooks. Events the projection is not interested in
// are skipped entirely; no hooks run for them.
//
// On failure the returned error is a *errors.ProcessingError carrying the
// attempt number, except for circuit breaker rejections, which pass through
// as *errors.BreakerOpenError.
func (e *Engine[S]) ProcessEvent(ctx context.Context, env event.Envelope) error {
	return e.process(ctx, env, 1)
}

// process is ProcessEvent with an explicit attempt number, so retry wrappers
// can tag each attempt.
func (e *Engine[S]) process(ctx context.Context, env event.Envelope, attempt int) error {
	if !e.InterestedIn(env.EventType) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx, span := e.spans.StartProcessSpan(ctx, e.name, env.EventType)
	err := e.processLocked(ctx, env, attempt)
	e.metrics.RecordEventProcessed(ctx, e.name, env.EventType, time.Since(start), err)
	e.spans.EndSpanWithError(span, err)
	if err == nil {
		observability.LogEventProcessed(e.logger, e.name, env.EventType, env.Meta.Position,
			float64(time.Since(start).Milliseconds()))
	}
	return err
}

// processLocked runs the pipeline body. The caller holds e.mu.
func (e *Engine[S]) processLocked(ctx context.Context, env event.Envelope, attempt int) error {
	if e.upcasters != nil {
		migrated, err := e.upcasters.Upcast(env)
		if err != nil {
			return e.fail(ctx, env, attempt, err)
		}
		env = migrated
	}

	state, err := e.loadState(ctx)
	if err != nil {
		return e.fail(ctx, env, attempt, err)
	}

	for _, name := range e.capOrder {
		if err := e.caps[name].BeforeApply(ctx, env); err != nil {
			return e.fail(ctx, env, attempt, err)
		}
	}

	next, err := e.proj.Apply(ctx, state, env)
	if err != nil {
		return e.fail(ctx, env, attempt, err)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return e.fail(ctx, env, attempt,
			errors.Wrap(errors.KindValidation, "encode projection state", err))
	}
	if err := e.states.Save(ctx, e.name, data); err != nil {
		return e.fail(ctx, env, attempt,
			errors.Wrap(errors.KindDatabase, "save projection state", err))
	}

	e.processed++
	res := Result{
		State:           data,
		Position:        env.Meta.Position,
		EventsProcessed: e.processed,
	}

	// After hooks run concurrently; the engine waits for all of them. Hook
	// errors fail the event even though the state is already persisted, so
	// hooks that must not fail the event swallow their own errors.
	if len(e.capOrder) > 0 {
		var (
			wg       sync.WaitGroup
			errMu    sync.Mutex
			hookErrs []error
		)
		for _, name := range e.capOrder {
			c := e.caps[name]
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.AfterApply(ctx, env, res); err != nil {
					errMu.Lock()
					hookErrs = append(hookErrs, err)
					errMu.Unlock()
				}
			}()
		}
		wg.Wait()
		if len(hookErrs) > 0 {
			return &errors.ProcessingError{
				Projection: e.name,
				EventType:  env.EventType,
				EventID:    env.Meta.EventID,
				Attempt:    attempt,
				Err:        stderrors.Join(hookErrs...),
			}
		}
	}
	return nil
}

// loadState reads the persisted state. On first use it creates and persists
// the projection's initial state, so a state row exists even when the first
// apply fails. The caller holds e.mu.
func (e *Engine[S]) loadState(ctx context.Context) (S, error) {
	var zero S
	data, err := e.states.Load(ctx, e.name)
	if stderrors.Is(err, store.ErrNotFound) {
		initial := e.proj.InitialState()
		encoded, err := json.Marshal(initial)
		if err != nil {
			return zero, errors.Wrap(errors.KindValidation, "encode initial projection state", err)
		}
		if err := e.states.Save(ctx, e.name, encoded); err != nil {
			return zero, errors.Wrap(errors.KindDatabase, "persist initial projection state", err)
		}
		return initial, nil
	}
	if err != nil {
		return zero, errors.Wrap(errors.KindDatabase, "load projection state", err)
	}
	var s S
	if err := json.Unmarshal(data, &s); err != nil {
		return zero, errors.Wrap(errors.KindValidation, "decode projection state", err)
	}
	return s, nil
}

// fail wraps the cause, runs the error hooks, and returns the error the
// caller should propagate. Circuit breaker rejections pass through unwrapped
// so retry classification and the breaker's own hooks can recognize them.
func (e *Engine[S]) fail(ctx context.Context, env event.Envelope, attempt int, cause error) error {
	procErr := cause
	if errors.KindOf(cause) != errors.KindCircuitOpen {
		procErr = &errors.ProcessingError{
			Projection: e.name,
			EventType:  env.EventType,
			EventID:    env.Meta.EventID,
			Attempt:    attempt,
			Err:        cause,
		}
	}

	for _, name := range e.capOrder {
		if hookErr := e.caps[name].OnError(ctx, env, procErr); hookErr != nil && e.logger != nil {
			e.logger.Debug("error hook failed",
				slog.String("projection", e.name),
				slog.String("capability", name),
				slog.String("error", hookErr.Error()),
			)
		}
	}

	observability.LogProcessingError(e.logger, e.name, env.EventType, attempt, procErr)
	return procErr
}

// Rebuild resets the projection to its initial state and replays the stream
// through it. Events already filtered out by the projection's interest set
// are skipped as usual.
func (e *Engine[S]) Rebuild(ctx context.Context, stream Stream) error {
	return e.rebuildWith(ctx, stream, func(ctx context.Context, env event.Envelope) error {
		return e.process(ctx, env, 1)
	})
}

// rebuildWith is Rebuild with a pluggable per-event apply function, shared
// with the retrying engine.
func (e *Engine[S]) rebuildWith(ctx context.Context, stream Stream, apply func(context.Context, event.Envelope) error) error {
	observability.LogRebuildStart(e.logger, e.name)
	elapsed := observability.TimedOperation()
	ctx, span := e.spans.StartRebuildSpan(ctx, e.name)

	var rebuildErr error
	defer func() {
		e.spans.EndSpanWithError(span, rebuildErr)
	}()

	if rebuildErr = e.resetState(ctx); rebuildErr != nil {
		return rebuildErr
	}

	var count int64
	for {
		if rebuildErr = ctx.Err(); rebuildErr != nil {
			return rebuildErr
		}
		env, err := stream.Next(ctx)
		if stderrors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			rebuildErr = err
			return rebuildErr
		}
		if !e.InterestedIn(env.EventType) {
			continue
		}
		if rebuildErr = apply(ctx, env); rebuildErr != nil {
			return rebuildErr
		}
		count++
	}

	observability.LogRebuildComplete(e.logger, e.name, count, elapsed())
	return nil
}

// Resume replays the stream through the projection without resetting the
// persisted state. Use after RecoverFromCheckpoint with a stream positioned
// at the checkpoint to catch up on the tail of the log.
func (e *Engine[S]) Resume(ctx context.Context, stream Stream) error {
	return e.resumeWith(ctx, stream, func(ctx context.Context, env event.Envelope) error {
		return e.process(ctx, env, 1)
	})
}

// resumeWith is Resume with a pluggable per-event apply function, shared with
// the retrying engine.
func (e *Engine[S]) resumeWith(ctx context.Context, stream Stream, apply func(context.Context, event.Envelope) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, err := stream.Next(ctx)
		if stderrors.Is(err, ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}
		if !e.InterestedIn(env.EventType) {
			continue
		}
		if err := apply(ctx, env); err != nil {
			return err
		}
	}
}

// RecoverFromCheckpoint restores the projection state from its latest
// checkpoint and returns the global position to resume from. Returns
// errors.KindStateNotFound when no checkpoint exists; the caller then
// rebuilds from the beginning.
func (e *Engine[S]) RecoverFromCheckpoint(ctx context.Context, checkpoints checkpoint.Store) (int64, error) {
	rec, err := checkpoints.Load(ctx, e.name)
	if stderrors.Is(err, checkpoint.ErrNotFound) {
		return 0, errors.Newf(errors.KindStateNotFound, "no checkpoint for projection %q", e.name)
	}
	if err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "load checkpoint", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.states.Save(ctx, e.name, rec.State); err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "restore projection state", err)
	}
	e.processed = rec.EventCount

	observability.LogCheckpoint(e.logger, e.name, rec.Position, len(rec.State))
	return rec.Position, nil
}

// resetState persists the projection's initial state and zeroes the
// processed counter.
func (e *Engine[S]) resetState(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(e.proj.InitialState())
	if err != nil {
		return errors.Wrap(errors.KindValidation, "encode initial projection state", err)
	}
	if err := e.states.Save(ctx, e.name, data); err != nil {
		return errors.Wrap(errors.KindDatabase, "reset projection state", err)
	}
	e.processed = 0
	return nil
}
