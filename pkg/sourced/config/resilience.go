package config

import (
	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/projection"
)

// RetryFrom builds a retry configuration from a config section. Expected
// keys: max_attempts, base_delay, max_delay, backoff_multiplier. Missing
// keys fall back to errors.DefaultRetry.
func RetryFrom(cfg Config) errors.RetryConfig {
	return errors.RetryConfig{
		MaxAttempts:       cfg.Int("max_attempts", errors.DefaultRetry.MaxAttempts),
		BaseDelay:         cfg.Duration("base_delay", errors.DefaultRetry.BaseDelay),
		MaxDelay:          cfg.Duration("max_delay", errors.DefaultRetry.MaxDelay),
		BackoffMultiplier: cfg.Float("backoff_multiplier", errors.DefaultRetry.BackoffMultiplier),
	}
}

// BreakerFrom builds a circuit breaker configuration from a config section.
// Expected keys: failure_threshold, recovery_timeout, half_open_attempts.
// Missing keys fall back to projection.DefaultBreaker.
func BreakerFrom(cfg Config) projection.BreakerConfig {
	return projection.BreakerConfig{
		FailureThreshold:    cfg.Int("failure_threshold", projection.DefaultBreaker.FailureThreshold),
		RecoveryTimeout:     cfg.Duration("recovery_timeout", projection.DefaultBreaker.RecoveryTimeout),
		HalfOpenMaxAttempts: cfg.Int("half_open_attempts", projection.DefaultBreaker.HalfOpenMaxAttempts),
	}
}

// Pipeline bundles the resilience configuration for one projection
// pipeline: retry, breaker, and the checkpoint/snapshot intervals.
type Pipeline struct {
	Retry              errors.RetryConfig
	Breaker            projection.BreakerConfig
	CheckpointInterval int64
	SnapshotInterval   int64
}

// PipelineFrom loads a configuration file and builds the whole pipeline
// configuration from its "retry", "breaker", "checkpoint" and "snapshot"
// sections. Missing sections fall back to the package defaults.
func PipelineFrom(path string) (Pipeline, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Pipeline{}, err
	}
	return Pipeline{
		Retry:              RetryFrom(cfg.Sub("retry")),
		Breaker:            BreakerFrom(cfg.Sub("breaker")),
		CheckpointInterval: cfg.Sub("checkpoint").Int64("interval", 100),
		SnapshotInterval:   cfg.Sub("snapshot").Int64("interval", 1000),
	}, nil
}

// RetryFromSettings builds a retry configuration from environment settings.
func RetryFromSettings(s Settings) errors.RetryConfig {
	return errors.RetryConfig{
		MaxAttempts:       s.RetryMaxAttempts,
		BaseDelay:         s.RetryBaseDelay,
		MaxDelay:          s.RetryMaxDelay,
		BackoffMultiplier: s.RetryBackoffMultiplier,
	}
}

// BreakerFromSettings builds a breaker configuration from environment
// settings.
func BreakerFromSettings(s Settings) projection.BreakerConfig {
	return projection.BreakerConfig{
		FailureThreshold:    s.BreakerFailureThreshold,
		RecoveryTimeout:     s.BreakerRecoveryTimeout,
		HalfOpenMaxAttempts: s.BreakerHalfOpenAttempts,
	}
}
