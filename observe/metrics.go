package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parallelrun/parallelrun/resilience"
)

// Metrics records execution metrics for engines and pipeline stages:
// the parallel.items.total/errors counters and parallel.item.duration_ms
// histogram, plus the breaker-state and adaptive-concurrency gauges.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records one item's completion, duration, and error status.
	RecordExecution(ctx context.Context, meta ExecMeta, duration time.Duration, err error)

	// RecordBreakerState records a circuit breaker's current state for the
	// named engine.
	RecordBreakerState(ctx context.Context, meta ExecMeta, state resilience.State)

	// RecordConcurrency records an AdaptiveController's current worker
	// count for the named engine.
	RecordConcurrency(ctx context.Context, meta ExecMeta, current int64)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	breakerState metric.Int64Gauge
	concurrency  metric.Int64Gauge
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"parallel.items.total",
		metric.WithDescription("Total number of items processed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"parallel.items.errors",
		metric.WithDescription("Total number of item processing errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"parallel.item.duration_ms",
		metric.WithDescription("Item processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	breakerState, err := meter.Int64Gauge(
		"parallel.breaker.state",
		metric.WithDescription("Circuit breaker state: 0=closed, 1=half-open, 2=open"),
	)
	if err != nil {
		return nil, err
	}

	concurrency, err := meter.Int64Gauge(
		"parallel.concurrency.current",
		metric.WithDescription("Current adaptive worker count"),
		metric.WithUnit("{worker}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		breakerState: breakerState,
		concurrency:  concurrency,
	}, nil
}

func execAttrs(meta ExecMeta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("engine.name", meta.Engine),
	}
	if meta.Stage != "" {
		attrs = append(attrs, attribute.String("stage.name", meta.Stage))
	}
	return attrs
}

// RecordExecution records metrics for one item's processing attempt.
func (m *metricsImpl) RecordExecution(ctx context.Context, meta ExecMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(execAttrs(meta)...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}

	durationMs := float64(duration.Microseconds()) / 1000.0
	m.durationHist.Record(ctx, durationMs, opt)
}

// RecordBreakerState records the breaker's current state as a gauge.
func (m *metricsImpl) RecordBreakerState(ctx context.Context, meta ExecMeta, state resilience.State) {
	m.breakerState.Record(ctx, breakerStateValue(state), metric.WithAttributes(execAttrs(meta)...))
}

// RecordConcurrency records the engine's current adaptive worker count.
func (m *metricsImpl) RecordConcurrency(ctx context.Context, meta ExecMeta, current int64) {
	m.concurrency.Record(ctx, current, metric.WithAttributes(execAttrs(meta)...))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordExecution(ctx context.Context, meta ExecMeta, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordBreakerState(ctx context.Context, meta ExecMeta, state resilience.State) {
}

func (m *noopMetrics) RecordConcurrency(ctx context.Context, meta ExecMeta, current int64) {
}
