package errors_test

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ironbell/sourced/pkg/sourced/errors"
)

func TestStrategy_Delay(t *testing.T) {
	s := errors.NewStrategy(errors.RetryConfig{
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          1 * time.Second,
		BackoffMultiplier: 2.0,
	})

	assert.Equal(t, 100*time.Millisecond, s.Delay(1))
	assert.Equal(t, 200*time.Millisecond, s.Delay(2))
	assert.Equal(t, 400*time.Millisecond, s.Delay(3))
	assert.Equal(t, 800*time.Millisecond, s.Delay(4))

	// Capped by MaxDelay from here on.
	assert.Equal(t, 1*time.Second, s.Delay(5))
	assert.Equal(t, 1*time.Second, s.Delay(50))
}

func TestStrategy_DelayOverflow(t *testing.T) {
	s := errors.NewStrategy(errors.RetryConfig{
		BaseDelay:         time.Hour,
		MaxDelay:          24 * time.Hour,
		BackoffMultiplier: 10,
	})
	// Large attempt numbers must clamp, not wrap negative.
	assert.Equal(t, 24*time.Hour, s.Delay(1000))
}

func TestStrategy_ShouldRetry_Defaults(t *testing.T) {
	s := errors.NewStrategy(errors.DefaultRetry)

	transient := errors.New(errors.KindTimeout, "slow store")
	assert.True(t, s.ShouldRetry(transient, 1))
	assert.True(t, s.ShouldRetry(transient, 2))

	// MaxAttempts is inclusive of the first try.
	assert.False(t, s.ShouldRetry(transient, 3))

	permanent := errors.New(errors.KindValidation, "bad payload")
	assert.False(t, s.ShouldRetry(permanent, 1))

	unknown := stderrors.New("mystery")
	assert.False(t, s.ShouldRetry(unknown, 1))
}

func TestStrategy_ShouldRetry_AllowList(t *testing.T) {
	s := errors.NewStrategy(errors.RetryConfig{
		MaxAttempts: 5,
		Retryable:   []errors.Kind{errors.KindNetwork},
	})

	assert.True(t, s.ShouldRetry(errors.New(errors.KindNetwork, "reset"), 1))
	// Timeout retries by default, but the allow-list excludes it.
	assert.False(t, s.ShouldRetry(errors.New(errors.KindTimeout, "slow"), 1))
}

func TestStrategy_ShouldRetry_DenyWins(t *testing.T) {
	s := errors.NewStrategy(errors.RetryConfig{
		MaxAttempts:  5,
		Retryable:    []errors.Kind{errors.KindNetwork},
		NonRetryable: []errors.Kind{errors.KindNetwork},
	})
	assert.False(t, s.ShouldRetry(errors.New(errors.KindNetwork, "reset"), 1))
}

func TestStrategy_ShouldRetry_LooksThroughProcessingError(t *testing.T) {
	s := errors.NewStrategy(errors.DefaultRetry)

	wrapped := &errors.ProcessingError{
		Projection: "balances",
		Attempt:    1,
		Err:        errors.New(errors.KindDatabase, "deadlock"),
	}
	assert.True(t, s.ShouldRetry(wrapped, 1))

	permanent := &errors.ProcessingError{
		Projection: "balances",
		Attempt:    1,
		Err:        errors.New(errors.KindValidation, "bad payload"),
	}
	assert.False(t, s.ShouldRetry(permanent, 1))
}

func TestStrategy_BreakerOpenNotRetryable(t *testing.T) {
	s := errors.NewStrategy(errors.DefaultRetry)
	assert.False(t, s.ShouldRetry(&errors.BreakerOpenError{Projection: "balances"}, 1))
}

func TestNewStrategy_FillsDefaults(t *testing.T) {
	s := errors.NewStrategy(errors.RetryConfig{})
	cfg := s.Config()

	assert.Equal(t, errors.DefaultRetry.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, errors.DefaultRetry.BaseDelay, cfg.BaseDelay)
	assert.Equal(t, errors.DefaultRetry.MaxDelay, cfg.MaxDelay)
	assert.Equal(t, errors.DefaultRetry.BackoffMultiplier, cfg.BackoffMultiplier)
}

func TestNoRetry(t *testing.T) {
	s := errors.NewStrategy(errors.NoRetry)
	assert.False(t, s.ShouldRetry(errors.New(errors.KindTimeout, "slow"), 1))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, errors.IsRetryable(errors.New(errors.KindNetwork, "reset")))
	assert.True(t, errors.IsRetryable(errors.New(errors.KindDatabase, "locked")))
	assert.False(t, errors.IsRetryable(errors.New(errors.KindVersionConflict, "stale")))
	assert.False(t, errors.IsRetryable(stderrors.New("plain")))
}
