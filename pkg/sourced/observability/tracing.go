package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the sourced tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("sourced")

// SpanManager handles trace span lifecycle for the projection pipeline.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartProcessSpan starts a span for processing one event.
	StartProcessSpan(ctx context.Context, projection, eventType string) (context.Context, trace.Span)

	// StartRebuildSpan starts a span for an entire projection rebuild.
	StartRebuildSpan(ctx context.Context, projection string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartProcessSpan starts a span for processing one event.
func (m *otelSpanManager) StartProcessSpan(ctx context.Context, projection, eventType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sourced.projection.process",
		trace.WithAttributes(
			attribute.String("projection", projection),
			attribute.String("event.type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartRebuildSpan starts a span for an entire projection rebuild.
func (m *otelSpanManager) StartRebuildSpan(ctx context.Context, projection string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sourced.projection.rebuild",
		trace.WithAttributes(
			attribute.String("projection", projection),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
