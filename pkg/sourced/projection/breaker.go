package projection

import (
	"context"
	"sync"
	"time"

	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/observability"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState int

const (
	// BreakerClosed lets all events through and counts consecutive failures.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects all events until the recovery timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe events through.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before letting
	// probe events through.
	RecoveryTimeout time.Duration

	// HalfOpenMaxAttempts is the number of probes allowed while half-open.
	// The breaker closes again only after this many consecutive probe
	// successes; any probe failure reopens it.
	HalfOpenMaxAttempts int
}

// DefaultBreaker is the standard circuit breaker configuration.
var DefaultBreaker = BreakerConfig{
	FailureThreshold:    5,
	RecoveryTimeout:     30 * time.Second,
	HalfOpenMaxAttempts: 1,
}

// CircuitBreaker is a capability that stops feeding events to a repeatedly
// failing projection. While open, BeforeApply rejects every event with a
// *errors.BreakerOpenError; the engine passes that error through unwrapped
// so the breaker's own rejections never count as failures.
type CircuitBreaker struct {
	cfg     BreakerConfig
	metrics observability.MetricsRecorder
	now     func() time.Time

	mu                sync.Mutex
	host              HostContext
	state             BreakerState
	failures          int
	halfOpenAttempts  int
	halfOpenSuccesses int
	openedAt          time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerMetrics sets the metrics recorder for transition counts.
func WithBreakerMetrics(m observability.MetricsRecorder) BreakerOption {
	return func(b *CircuitBreaker) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithBreakerClock overrides the time source. For tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewCircuitBreaker creates a breaker with the given configuration.
// Zero config fields fall back to DefaultBreaker.
func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreaker.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreaker.RecoveryTimeout
	}
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = DefaultBreaker.HalfOpenMaxAttempts
	}
	b := &CircuitBreaker{
		cfg:     cfg,
		metrics: observability.NoopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Attach implements Capability.
func (b *CircuitBreaker) Attach(host HostContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.host = host
	return nil
}

// Detach implements Capability.
func (b *CircuitBreaker) Detach() error { return nil }

// BeforeApply implements Capability. It rejects events while open and
// throttles probes while half-open.
func (b *CircuitBreaker) BeforeApply(ctx context.Context, _ event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.RecoveryTimeout {
			return &errors.BreakerOpenError{
				Projection: b.host.Projection,
				RetryIn:    b.cfg.RecoveryTimeout - elapsed,
			}
		}
		b.transition(ctx, BreakerHalfOpen)
		b.halfOpenAttempts = 1
		b.halfOpenSuccesses = 0
		return nil

	default: // BreakerHalfOpen
		if b.halfOpenAttempts >= b.cfg.HalfOpenMaxAttempts {
			return &errors.BreakerOpenError{Projection: b.host.Projection}
		}
		b.halfOpenAttempts++
		return nil
	}
}

// AfterApply implements Capability. Successful half-open probes accumulate
// until HalfOpenMaxAttempts of them close the breaker; a success while
// closed clears the failure count.
func (b *CircuitBreaker) AfterApply(ctx context.Context, _ event.Envelope, _ Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxAttempts {
			b.transition(ctx, BreakerClosed)
			b.failures = 0
			b.halfOpenAttempts = 0
			b.halfOpenSuccesses = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
	return nil
}

// OnError implements Capability. Failures count toward the threshold except
// the breaker's own rejections, which would otherwise feed back into it.
func (b *CircuitBreaker) OnError(ctx context.Context, _ event.Envelope, procErr error) error {
	if errors.Is(procErr, errors.KindCircuitOpen) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.transition(ctx, BreakerOpen)
		b.openedAt = b.now()
		b.halfOpenAttempts = 0
		b.halfOpenSuccesses = 0

	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(ctx, BreakerOpen)
			b.openedAt = b.now()
		}
	}
	return nil
}

// transition changes state and records the change. The caller holds b.mu.
func (b *CircuitBreaker) transition(ctx context.Context, to BreakerState) {
	from := b.state
	b.state = to
	observability.LogBreakerTransition(b.host.Logger, b.host.Projection, from.String(), to.String())
	b.metrics.RecordBreakerTransition(ctx, b.host.Projection, from.String(), to.String())
}
