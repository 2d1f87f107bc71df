// Package observability provides structured logging, metrics, and
// distributed tracing for the projection pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds projection context to a logger.
// Returns a new logger with projection, event_type, and attempt fields.
func EnrichLogger(logger *slog.Logger, projection, eventType string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("projection", projection),
		slog.String("event_type", eventType),
		slog.Int("attempt", attempt),
	)
}

// LogEventProcessed logs a successfully processed event.
func LogEventProcessed(logger *slog.Logger, projection, eventType string, position int64, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event processed",
		slog.String("projection", projection),
		slog.String("event_type", eventType),
		slog.Int64("position", position),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogProcessingError logs a failed processing attempt.
func LogProcessingError(logger *slog.Logger, projection, eventType string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Error("event processing failed",
		slog.String("projection", projection),
		slog.String("event_type", eventType),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogRetryScheduled logs an upcoming retry and its backoff.
func LogRetryScheduled(logger *slog.Logger, projection string, attempt int, delay time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("retry scheduled",
		slog.String("projection", projection),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

// LogBreakerTransition logs a circuit breaker state change.
func LogBreakerTransition(logger *slog.Logger, projection, from, to string) {
	if logger == nil {
		return
	}
	logger.Warn("circuit breaker state changed",
		slog.String("projection", projection),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogDeadLettered logs an event diverted to the dead-letter store.
func LogDeadLettered(logger *slog.Logger, projection, eventID string, attempts int) {
	if logger == nil {
		return
	}
	logger.Warn("event dead-lettered",
		slog.String("projection", projection),
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, projection string, position int64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("projection", projection),
		slog.Int64("position", position),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs checkpoint failure (non-fatal).
func LogCheckpointError(logger *slog.Logger, projection string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("projection", projection),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogRebuildStart logs the start of a projection rebuild.
func LogRebuildStart(logger *slog.Logger, projection string) {
	if logger == nil {
		return
	}
	logger.Info("projection rebuild starting",
		slog.String("projection", projection),
	)
}

// LogRebuildComplete logs a completed projection rebuild.
func LogRebuildComplete(logger *slog.Logger, projection string, events int64, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("projection rebuild completed",
		slog.String("projection", projection),
		slog.Int64("events", events),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
