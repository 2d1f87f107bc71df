package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records projection pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEventProcessed records one processing attempt with its duration
	// and error status.
	RecordEventProcessed(ctx context.Context, projection, eventType string, duration time.Duration, err error)

	// RecordRetry records a scheduled retry attempt.
	RecordRetry(ctx context.Context, projection string, attempt int)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, projection, from, to string)

	// RecordDeadLetter records an event diverted to the dead-letter store.
	RecordDeadLetter(ctx context.Context, projection string)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, projection string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsProcessed    metric.Int64Counter
	processingLatency  metric.Float64Histogram
	processingErrors   metric.Int64Counter
	retries            metric.Int64Counter
	breakerTransitions metric.Int64Counter
	deadLetters        metric.Int64Counter
	checkpointSize     metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("sourced")

	eventsProcessed, err := meter.Int64Counter("sourced.projection.events",
		metric.WithDescription("Number of events processed by projections"),
	)
	if err != nil {
		return nil, err
	}

	processingLatency, err := meter.Float64Histogram("sourced.projection.latency_ms",
		metric.WithDescription("Event processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	processingErrors, err := meter.Int64Counter("sourced.projection.errors",
		metric.WithDescription("Number of event processing errors"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("sourced.projection.retries",
		metric.WithDescription("Number of retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	breakerTransitions, err := meter.Int64Counter("sourced.breaker.transitions",
		metric.WithDescription("Number of circuit breaker state transitions"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("sourced.deadletter.stored",
		metric.WithDescription("Number of events stored in the dead-letter store"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("sourced.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsProcessed:    eventsProcessed,
		processingLatency:  processingLatency,
		processingErrors:   processingErrors,
		retries:            retries,
		breakerTransitions: breakerTransitions,
		deadLetters:        deadLetters,
		checkpointSize:     checkpointSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEventProcessed records one processing attempt.
func (m *otelMetrics) RecordEventProcessed(ctx context.Context, projection, eventType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("projection", projection),
		attribute.String("event.type", eventType),
		attribute.Bool("success", err == nil),
	)
	m.eventsProcessed.Add(ctx, 1, attrs)
	m.processingLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.processingErrors.Add(ctx, 1, attrs)
	}
}

// RecordRetry records a scheduled retry attempt.
func (m *otelMetrics) RecordRetry(ctx context.Context, projection string, attempt int) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projection),
		attribute.Int("attempt", attempt),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *otelMetrics) RecordBreakerTransition(ctx context.Context, projection, from, to string) {
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projection),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordDeadLetter records an event diverted to the dead-letter store.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, projection string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projection),
	))
}

// RecordCheckpoint records a checkpoint save operation.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, projection string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(
		attribute.String("projection", projection),
	))
}
