package errors

import (
	stderrors "errors"
	"math"
	"time"
)

// RetryConfig configures the projection retry strategy.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// BackoffMultiplier is applied per attempt: delay(n) = base * mult^(n-1).
	BackoffMultiplier float64

	// Retryable, when non-empty, is an allow-list: only these kinds retry.
	Retryable []Kind

	// NonRetryable kinds never retry, regardless of any other rule.
	NonRetryable []Kind
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:       3,
	BaseDelay:         100 * time.Millisecond,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{MaxAttempts: 1}

// Strategy decides whether a failed attempt should be retried and how long
// to wait before the next one.
type Strategy struct {
	cfg RetryConfig
}

// NewStrategy creates a Strategy, filling zero config fields from DefaultRetry.
func NewStrategy(cfg RetryConfig) *Strategy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetry.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetry.MaxDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = DefaultRetry.BackoffMultiplier
	}
	return &Strategy{cfg: cfg}
}

// Config returns the effective configuration.
func (s *Strategy) Config() RetryConfig {
	return s.cfg
}

// ShouldRetry reports whether another attempt is allowed after the given
// error on the given 1-based attempt number.
func (s *Strategy) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.cfg.MaxAttempts {
		return false
	}
	return s.classify(err)
}

// Delay returns the backoff before the attempt following the given 1-based
// attempt number: min(MaxDelay, BaseDelay * BackoffMultiplier^(attempt-1)).
func (s *Strategy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(s.cfg.BaseDelay) * math.Pow(s.cfg.BackoffMultiplier, float64(attempt-1)))
	if d > s.cfg.MaxDelay || d < 0 {
		return s.cfg.MaxDelay
	}
	return d
}

// classify applies the precedence rules from the retry design:
// an explicit deny always wins, an allow-list restricts retries to its
// members, and otherwise the default transient kinds retry.
func (s *Strategy) classify(err error) bool {
	kind := effectiveKind(err)

	for _, k := range s.cfg.NonRetryable {
		if k == kind {
			return false
		}
	}
	if len(s.cfg.Retryable) > 0 {
		for _, k := range s.cfg.Retryable {
			if k == kind {
				return true
			}
		}
		return false
	}
	switch kind {
	case KindNetwork, KindTimeout, KindDatabase:
		return true
	default:
		return false
	}
}

// effectiveKind looks through ProcessingError wrappers so classification
// always sees the cause, not the pipeline framing.
func effectiveKind(err error) Kind {
	kind := KindOf(err)
	if kind != KindProcessingFailed {
		return kind
	}
	var pe *ProcessingError
	if stderrors.As(err, &pe) && pe.Err != nil {
		if inner := KindOf(pe.Err); inner != KindUnknown {
			return inner
		}
	}
	return kind
}

// IsRetryable reports whether the default strategy would retry the error.
func IsRetryable(err error) bool {
	switch effectiveKind(err) {
	case KindNetwork, KindTimeout, KindDatabase:
		return true
	default:
		return false
	}
}
