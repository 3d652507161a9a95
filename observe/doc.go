// Package observe provides OpenTelemetry-based observability for
// parallel.Engine and pipeline.Runner executions.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. Consumers wire a Middleware into parallel.Engine
// (via parallel.WithObserver) or use the Logger from pipeline.Runner's
// Callbacks.
//
// # Overview
//
// observe provides three observability pillars:
//   - Tracing: OpenTelemetry spans named parallel.exec.<engine>[.<stage>]
//   - Metrics: Execution counters, duration histograms, breaker-state and
//     adaptive-concurrency gauges
//   - Logging: Structured JSON logging with automatic field redaction
//
// # Core Components
//
//   - [Observer]: Main facade providing Tracer, Meter, and Logger access
//   - [Tracer]: Span creation with engine/stage metadata as span attributes
//   - [Metrics]: Records execution counts, errors, duration, breaker state,
//     and current adaptive concurrency
//   - [Logger]: Structured JSON logging with sensitive field redaction
//   - [Middleware]: Wraps ExecuteFunc with complete observability
//
// # Quick Start
//
//	cfg := observe.Config{
//	    ServiceName: "my-service",
//	    Version:     "1.0.0",
//	    Tracing:     observe.TracingConfig{Enabled: true, Exporter: "otlp", SamplePct: 1.0},
//	    Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
//	    Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
//	}
//
//	obs, err := observe.NewObserver(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(ctx)
//
//	// Create middleware and wrap item execution
//	mw, _ := observe.MiddlewareFromObserver(obs)
//	wrapped := mw.Wrap(originalExecuteFunc)
//
//	// Execute - automatically traced, metered, and logged
//	result, err := wrapped(ctx, meta, item)
//
// # Telemetry Details
//
// Tracing creates spans with deterministic names:
//   - Bare engine: "parallel.exec.<engine>" (e.g., "parallel.exec.ingest")
//   - Pipeline stage: "parallel.exec.<engine>.<stage>" (e.g., "parallel.exec.ingest.transform")
//
// Span attributes include:
//   - engine.name: Engine or pipeline name (required)
//   - stage.name: Pipeline stage name (if set)
//   - item.index: WorkItem.Index (if item-scoped)
//   - attempt: Attempt number, starting at 1 (if > 0)
//   - item.error: Boolean indicating execution failure
//
// Metrics recorded:
//   - parallel.items.total (counter): Total items processed
//   - parallel.items.errors (counter): Total item processing errors
//   - parallel.item.duration_ms (histogram): Item duration distribution
//   - parallel.breaker.state (gauge): 0=closed, 1=half-open, 2=open
//   - parallel.concurrency.current (gauge): Current adaptive worker count
//
// All metrics include labels: engine.name, stage.name (if set).
//
// # Sensitive Field Redaction
//
// The logger automatically redacts these fields to prevent credential leakage:
//   - input, inputs
//   - password, secret, token
//   - api_key, apiKey, credential
//
// See [RedactedFields] for the complete list.
//
// # Exporter Configuration
//
// Tracing exporters:
//   - "otlp": OTLP gRPC (requires OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_TRACES_ENDPOINT)
//   - "jaeger": Jaeger via OTLP (requires OTEL_EXPORTER_JAEGER_ENDPOINT)
//   - "stdout": Console output for development
//   - "none" or "": Disabled (no-op)
//
// Metrics exporters:
//   - "otlp": OTLP gRPC (requires OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_METRICS_ENDPOINT)
//   - "prometheus": Prometheus scrape endpoint
//   - "stdout": Console output for development
//   - "none" or "": Disabled (no-op)
//
// # Thread Safety
//
// All exported types are safe for concurrent use after construction:
//   - [Observer]: Tracer(), Meter(), Logger() are safe; Shutdown() is idempotent
//   - [Tracer]: StartSpan() and EndSpan() are safe for concurrent use
//   - [Metrics]: Record* methods are safe for concurrent use
//   - [Logger]: All logging methods are mutex-protected
//   - [Middleware]: Wrap() returns a thread-safe ExecuteFunc
//
// # Error Handling
//
// Configuration errors (use errors.Is for checking):
//   - [ErrMissingServiceName]: Config.ServiceName is empty
//   - [ErrInvalidSamplePct]: Tracing.SamplePct not in [0.0, 1.0]
//   - [ErrInvalidTracingExporter]: Unknown tracing exporter name
//   - [ErrInvalidMetricsExporter]: Unknown metrics exporter name
//   - [ErrInvalidLogLevel]: Unknown log level
//
// Exporter errors:
//   - [ErrEndpointNotConfigured]: Required endpoint env var not set
//
// Runtime errors:
//   - [ErrNilObserver]: Nil Observer passed to MiddlewareFromObserver
//   - [ErrMissingEngineName]: declared for an empty ExecMeta.Engine; no
//     function in this package returns it, and an empty Engine is not
//     rejected
//
// Example error handling:
//
//	obs, err := observe.NewObserver(ctx, cfg)
//	if errors.Is(err, observe.ErrMissingServiceName) {
//	    // Handle missing service name
//	}
//	if errors.Is(err, observe.ErrEndpointNotConfigured) {
//	    // Handle missing OTLP endpoint
//	}
//
// # Integration
//
// observe integrates with the rest of this module:
//   - parallel.Engine: a Middleware set with parallel.WithObserver wraps
//     every attempt, so Metrics.RecordExecution fires once per attempt.
//     The engine does not call RecordBreakerState or RecordConcurrency, and
//     its ProgressReporter/MetricsSampler only invoke the caller's own
//     onProgress/onMetricsSample callbacks.
//   - pipeline.Runner: Callbacks.OnStageStart/OnStageComplete can drive a
//     Logger scoped with WithEngine/WithStage for per-stage structured logs.
package observe
