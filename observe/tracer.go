package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/parallelrun/parallelrun/resilience"
)

// ExecMeta describes the unit of work a span, log line, or metric sample
// belongs to: an engine (parallel.Engine) or a stage running inside a
// pipeline.
type ExecMeta struct {
	Engine    string // engine or pipeline name (required)
	Stage     string // pipeline stage name; empty when meta describes a bare parallel.Engine
	ItemIndex int64  // WorkItem.Index; -1 when not item-scoped
	Attempt   int    // attempt number, starting at 1; 0 when not attempt-scoped
}

// SpanName returns the deterministic span name for this execution.
// Format: parallel.exec.<engine> or parallel.exec.<engine>.<stage>
func (m ExecMeta) SpanName() string {
	if m.Stage != "" {
		return "parallel.exec." + m.Engine + "." + m.Stage
	}
	return "parallel.exec." + m.Engine
}

// Tracer wraps OpenTelemetry tracing with engine/stage-specific span
// management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan derives the span's context from ctx; it returns no error.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for one engine/stage execution.
	StartSpan(ctx context.Context, meta ExecMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with execution metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta ExecMeta) (context.Context, trace.Span) {
	spanName := meta.SpanName()

	attrs := []attribute.KeyValue{
		attribute.String("engine.name", meta.Engine),
		attribute.Bool("item.error", false), // updated in EndSpan if error
	}

	if meta.Stage != "" {
		attrs = append(attrs, attribute.String("stage.name", meta.Stage))
	}
	if meta.ItemIndex >= 0 {
		attrs = append(attrs, attribute.Int64("item.index", meta.ItemIndex))
	}
	if meta.Attempt > 0 {
		attrs = append(attrs, attribute.Int("attempt", meta.Attempt))
	}

	ctx, span := t.tracer.Start(ctx, spanName,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("item.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// newNoopTracer creates a no-op tracer.
func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta ExecMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}

// breakerStateValue maps a resilience.State to the integer gauge value
// recorded by Metrics.RecordBreakerState (0=closed, 1=half-open, 2=open).
func breakerStateValue(s resilience.State) int64 {
	switch s {
	case resilience.StateClosed:
		return 0
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}
