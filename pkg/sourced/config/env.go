package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings holds the environment-driven pipeline configuration.
// All variables are optional; zero values defer to the typed defaults.
type Settings struct {
	// Store paths. Empty paths mean in-memory stores.
	EventStorePath  string `env:"SOURCED_EVENT_STORE_PATH"`
	StateStorePath  string `env:"SOURCED_STATE_STORE_PATH"`
	CheckpointPath  string `env:"SOURCED_CHECKPOINT_PATH"`
	SnapshotPath    string `env:"SOURCED_SNAPSHOT_PATH"`
	DeadLetterPath  string `env:"SOURCED_DEADLETTER_PATH"`

	// Retry.
	RetryMaxAttempts       int           `env:"SOURCED_RETRY_MAX_ATTEMPTS"       envDefault:"3"`
	RetryBaseDelay         time.Duration `env:"SOURCED_RETRY_BASE_DELAY"         envDefault:"100ms"`
	RetryMaxDelay          time.Duration `env:"SOURCED_RETRY_MAX_DELAY"          envDefault:"30s"`
	RetryBackoffMultiplier float64       `env:"SOURCED_RETRY_BACKOFF_MULTIPLIER" envDefault:"2.0"`

	// Circuit breaker.
	BreakerFailureThreshold int           `env:"SOURCED_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerRecoveryTimeout  time.Duration `env:"SOURCED_BREAKER_RECOVERY_TIMEOUT"  envDefault:"30s"`
	BreakerHalfOpenAttempts int           `env:"SOURCED_BREAKER_HALF_OPEN_ATTEMPTS" envDefault:"1"`

	// Intervals in applied events.
	CheckpointInterval int64 `env:"SOURCED_CHECKPOINT_INTERVAL" envDefault:"100"`
	SnapshotInterval   int64 `env:"SOURCED_SNAPSHOT_INTERVAL"   envDefault:"1000"`

	// Observability.
	MetricsEnabled bool `env:"SOURCED_METRICS_ENABLED" envDefault:"false"`
	TracingEnabled bool `env:"SOURCED_TRACING_ENABLED" envDefault:"false"`
}

// ParseSettings loads Settings from environment variables.
func ParseSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}
