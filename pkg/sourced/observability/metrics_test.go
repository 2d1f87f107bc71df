package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a reader to
// collect from.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordEventProcessed(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records event count", func(t *testing.T) {
		m.RecordEventProcessed(ctx, "balances", "account.credited", 5*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sourced.projection.events")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum type")
		require.NotEmpty(t, sum.DataPoints)

		found := false
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "projection" && attr.Value.AsString() == "balances" {
					found = true
					assert.GreaterOrEqual(t, dp.Value, int64(1))
				}
			}
		}
		assert.True(t, found, "Expected to find datapoint for projection=balances")
	})

	t.Run("records latency", func(t *testing.T) {
		m.RecordEventProcessed(ctx, "balances", "account.credited", 25*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sourced.projection.latency_ms")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("records errors when present", func(t *testing.T) {
		m.RecordEventProcessed(ctx, "failing", "account.credited", time.Millisecond,
			errors.New("handler exploded"))

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sourced.projection.errors")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum type")

		found := false
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "projection" && attr.Value.AsString() == "failing" {
					found = true
					assert.GreaterOrEqual(t, dp.Value, int64(1))
				}
			}
		}
		assert.True(t, found, "Expected to find error datapoint")
	})

	t.Run("does not record error when nil", func(t *testing.T) {
		m.RecordEventProcessed(ctx, "success_only", "account.credited", time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "sourced.projection.errors")
		if metric == nil {
			return
		}
		sum, ok := metric.Data.(metricdata.Sum[int64])
		if !ok {
			return
		}
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "projection" && attr.Value.AsString() == "success_only" {
					assert.Equal(t, int64(0), dp.Value, "Expected no errors for success_only")
				}
			}
		}
	})
}

func TestRecordRetry(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordRetry(context.Background(), "balances", 2)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "sourced.projection.retries")
	require.NotNil(t, metric)

	sum, ok := metric.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)
}

func TestRecordBreakerTransition(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordBreakerTransition(context.Background(), "balances", "closed", "open")

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "sourced.breaker.transitions")
	require.NotNil(t, metric)

	sum, ok := metric.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)

	found := false
	for _, dp := range sum.DataPoints {
		var from, to string
		for _, attr := range dp.Attributes.ToSlice() {
			switch attr.Key {
			case "from":
				from = attr.Value.AsString()
			case "to":
				to = attr.Value.AsString()
			}
		}
		if from == "closed" && to == "open" {
			found = true
		}
	}
	assert.True(t, found, "Expected closed->open transition datapoint")
}

func TestRecordDeadLetter(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordDeadLetter(context.Background(), "balances")

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "sourced.deadletter.stored")
	require.NotNil(t, metric)
}

func TestRecordCheckpointMetric(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordCheckpoint(context.Background(), "balances", 2048)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "sourced.checkpoint.size_bytes")
	require.NotNil(t, metric)

	hist, ok := metric.Data.(metricdata.Histogram[int64])
	require.True(t, ok, "Expected Histogram[int64] type")
	require.NotEmpty(t, hist.DataPoints)

	found := false
	for _, dp := range hist.DataPoints {
		for _, attr := range dp.Attributes.ToSlice() {
			if attr.Key == "projection" && attr.Value.AsString() == "balances" {
				found = true
				assert.Greater(t, dp.Count, uint64(0))
			}
		}
	}
	assert.True(t, found, "Expected to find datapoint for balances")
}

func TestOtelMetrics_AllInstruments(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()

	m.RecordEventProcessed(ctx, "p", "e", 10*time.Millisecond, nil)
	m.RecordEventProcessed(ctx, "p", "e", time.Millisecond, errors.New("test"))
	m.RecordRetry(ctx, "p", 1)
	m.RecordBreakerTransition(ctx, "p", "closed", "open")
	m.RecordDeadLetter(ctx, "p")
	m.RecordCheckpoint(ctx, "p", 1024)

	rm := collectMetrics(t, reader)

	assert.NotNil(t, findMetric(rm, "sourced.projection.events"))
	assert.NotNil(t, findMetric(rm, "sourced.projection.latency_ms"))
	assert.NotNil(t, findMetric(rm, "sourced.projection.errors"))
	assert.NotNil(t, findMetric(rm, "sourced.projection.retries"))
	assert.NotNil(t, findMetric(rm, "sourced.breaker.transitions"))
	assert.NotNil(t, findMetric(rm, "sourced.deadletter.stored"))
	assert.NotNil(t, findMetric(rm, "sourced.checkpoint.size_bytes"))
}
