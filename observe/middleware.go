package observe

import (
	"context"
	"time"
)

// ExecuteFunc is the signature for one item's processing function. This is
// the standard function signature that Middleware wraps around a
// parallel.Engine worker or a pipeline stage's per-item call.
type ExecuteFunc func(ctx context.Context, meta ExecMeta, item any) (any, error)

// Middleware wraps item execution with observability (tracing, metrics,
// logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
//   - Ownership: Input/output values are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps an ExecuteFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta ExecMeta, item any) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := time.Now()
		result, err := fn(ctx, meta, item)
		duration := time.Since(start)

		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, meta, duration, err)

		itemLogger := m.logger.WithEngine(meta.Engine)
		if meta.Stage != "" {
			itemLogger = itemLogger.WithStage(meta.Stage)
		}
		fields := []Field{
			{Key: "item.index", Value: meta.ItemIndex},
			{Key: "attempt", Value: meta.Attempt},
			{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000.0},
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			itemLogger.Error(ctx, "item execution failed", fields...)
		} else {
			itemLogger.Info(ctx, "item execution completed", fields...)
		}

		return result, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
// Returns ErrNilObserver if obs is nil.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	tracer := newTracer(obs.Tracer())

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(tracer, metrics, obs.Logger()), nil
}
