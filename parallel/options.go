package parallel

import (
	"time"

	"github.com/parallelrun/parallelrun/observe"
	"github.com/parallelrun/parallelrun/resilience"
)

// ErrorMode selects how the engine reacts to permanent per-item errors.
type ErrorMode int

const (
	// FailFast cancels the execution's internal context on the first
	// permanent error and emits that error as the execution's terminal
	// error. Pending input is not read.
	FailFast ErrorMode = iota

	// CollectAndContinue emits every permanent error as an ItemOutcome but
	// keeps running until the source is exhausted; the execution then fails
	// with an *AggregateError if any errors occurred.
	CollectAndContinue

	// BestEffort behaves like CollectAndContinue but the execution never
	// fails: errors are observable only through OnCompleteItem or metrics.
	BestEffort
)

func (m ErrorMode) String() string {
	switch m {
	case FailFast:
		return "fail-fast"
	case CollectAndContinue:
		return "collect-and-continue"
	case BestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}

// RateLimitConfig enables the engine's TokenBucket admission gate.
type RateLimitConfig struct {
	TokensPerSecond float64
	BurstCapacity   int
	TokensPerOp     int
}

// BreakerConfig enables the engine's CircuitBreaker admission gate.
type BreakerConfig struct {
	ErrorThreshold     float64
	MinObservations    int
	WindowSize         int
	OpenDuration       time.Duration
	HalfOpenProbeCount int
	OnStateChange      func(from, to resilience.State)
}

// AdaptiveConfig enables the AdaptiveConcurrencyController, which overrides
// MaxConcurrency dynamically within [Min, Max].
type AdaptiveConfig struct {
	Min            int
	Max            int
	Initial        int
	TargetLatency  time.Duration
	MinSuccessRate float64
	// LowWaterAlpha scales TargetLatency for the scale-up check: the
	// controller increases N only when p50 latency drops below
	// TargetLatency * LowWaterAlpha. Default 0.5.
	LowWaterAlpha       float64
	SampleInterval      time.Duration
	SampleWindow        int
	OnConcurrencyChange func(old, new int)
}

// ProgressConfig periodically reports a ProgressSnapshot.
type ProgressConfig struct {
	ReportInterval time.Duration
	OnProgress     func(ProgressSnapshot)
}

// MetricsConfig periodically reports a MetricsSnapshot.
type MetricsConfig struct {
	SampleInterval  time.Duration
	OnMetricsSample func(MetricsSnapshot)
}

// ProgressSnapshot is emitted on ProgressConfig.ReportInterval.
type ProgressSnapshot struct {
	TotalItems      *int64 // nil when the source length is unknown
	ItemsCompleted  int64
	ItemsFailed     int64
	PercentComplete *float64 // nil when TotalItems is nil
	Elapsed         time.Duration
	ItemsPerSecond  float64
}

// MetricsSnapshot is emitted on MetricsConfig.SampleInterval.
type MetricsSnapshot struct {
	ItemsInFlight      int
	ItemsCompleted     int64
	TotalFailures      int64
	TotalRetries       int64
	// ItemsAbandoned counts attempts whose resilience.ExecuteWithTimeout
	// call fired before the user function returned: the goroutine running
	// it is left running, per ErrAbandoned.
	ItemsAbandoned     int64
	CurrentConcurrency int
	BreakerState       resilience.State
	Elapsed            time.Duration
}

// ExecOptions configures one execution. It is immutable once passed to
// Run/MapParallel/etc: construct via New with functional Options, never
// mutate a value handed to the engine.
type ExecOptions struct {
	MaxConcurrency     int
	ChannelCapacity    int
	MaxRetries         int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	BackoffStrategy    resilience.BackoffStrategy
	TransientPredicate func(error) bool
	PerItemTimeout     time.Duration
	OrderedOutput      bool
	ErrorMode          ErrorMode
	RateLimit          *RateLimitConfig
	Breaker            *BreakerConfig
	Adaptive           *AdaptiveConfig
	Progress           *ProgressConfig
	Metrics            *MetricsConfig
	OnCompleteItem     func(ItemOutcome[any])

	// Observer wires observe's tracing/metrics/logging middleware around
	// every attempt the engine makes. Nil (the default) disables it
	// entirely — observe is an independent package a caller opts into, not
	// a mandatory dependency.
	Observer *observe.Middleware
	// EngineName labels every span/metric/log observe emits for this
	// execution (observe.ExecMeta.Engine). Required for Observer to do
	// anything useful; defaults to "parallel" when left empty.
	EngineName string
	// StageName labels observe.ExecMeta.Stage. pipeline.Stage.run sets this
	// from the stage's own name when Observer is configured and the caller
	// left it blank.
	StageName string
}

// Option configures an ExecOptions value, following the same
// functional-options pattern as resilience.ExecutorOption.
type Option func(*ExecOptions)

// New builds an ExecOptions from functional options, applying the
// defaults (maxConcurrency=1, channelCapacity=1, unordered,
// CollectAndContinue, nothing transient).
func New(opts ...Option) ExecOptions {
	o := ExecOptions{
		MaxConcurrency:     1,
		ChannelCapacity:    1,
		MaxRetries:         0,
		BaseDelay:          0,
		BackoffStrategy:    resilience.BackoffNone,
		TransientPredicate: func(error) bool { return false },
		OrderedOutput:      false,
		ErrorMode:          CollectAndContinue,
		EngineName:         "parallel",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxConcurrency sets the upper bound on simultaneously running user
// calls (clamped to ≥1).
func WithMaxConcurrency(n int) Option {
	return func(o *ExecOptions) {
		if n < 1 {
			n = 1
		}
		o.MaxConcurrency = n
	}
}

// WithChannelCapacity sets the size of the internal in/out buffers
// (clamped to ≥1).
func WithChannelCapacity(c int) Option {
	return func(o *ExecOptions) {
		if c < 1 {
			c = 1
		}
		o.ChannelCapacity = c
	}
}

// WithRetry sets the max additional attempts, base delay, and backoff
// strategy after the first failure.
func WithRetry(maxRetries int, baseDelay time.Duration, strategy resilience.BackoffStrategy) Option {
	return func(o *ExecOptions) {
		o.MaxRetries = maxRetries
		o.BaseDelay = baseDelay
		o.BackoffStrategy = strategy
	}
}

// WithMaxDelay caps the backoff delay computed by the configured strategy.
func WithMaxDelay(d time.Duration) Option {
	return func(o *ExecOptions) { o.MaxDelay = d }
}

// WithTransientPredicate overrides the default "nothing is transient"
// classifier.
func WithTransientPredicate(p func(error) bool) Option {
	return func(o *ExecOptions) { o.TransientPredicate = p }
}

// WithPerItemTimeout bounds a single attempt; it does not cancel the
// execution.
func WithPerItemTimeout(d time.Duration) Option {
	return func(o *ExecOptions) { o.PerItemTimeout = d }
}

// WithOrderedOutput selects ordered-emission semantics (outcomes emerge in
// ascending index order via a reorder buffer).
func WithOrderedOutput(ordered bool) Option {
	return func(o *ExecOptions) { o.OrderedOutput = ordered }
}

// WithErrorMode selects FailFast / CollectAndContinue / BestEffort.
func WithErrorMode(m ErrorMode) Option {
	return func(o *ExecOptions) { o.ErrorMode = m }
}

// WithRateLimit enables the engine's TokenBucket admission gate.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(o *ExecOptions) { o.RateLimit = &cfg }
}

// WithBreaker enables the engine's CircuitBreaker admission gate.
func WithBreaker(cfg BreakerConfig) Option {
	return func(o *ExecOptions) { o.Breaker = &cfg }
}

// WithAdaptive enables the AdaptiveConcurrencyController, overriding
// MaxConcurrency dynamically within [cfg.Min, cfg.Max].
func WithAdaptive(cfg AdaptiveConfig) Option {
	return func(o *ExecOptions) { o.Adaptive = &cfg }
}

// WithProgress installs a periodic ProgressSnapshot callback.
func WithProgress(cfg ProgressConfig) Option {
	return func(o *ExecOptions) { o.Progress = &cfg }
}

// WithMetricsSample installs a periodic MetricsSnapshot callback.
func WithMetricsSample(cfg MetricsConfig) Option {
	return func(o *ExecOptions) { o.Metrics = &cfg }
}

// WithOnCompleteItem installs a callback invoked after every item
// terminates, successfully or not.
func WithOnCompleteItem(f func(ItemOutcome[any])) Option {
	return func(o *ExecOptions) { o.OnCompleteItem = f }
}

// WithObserver wires an observe.Middleware around every attempt the engine
// makes, tracing, metering, and logging each one. Pass WithEngineName
// (and optionally WithStageName) alongside this to label the emitted
// telemetry.
func WithObserver(mw *observe.Middleware) Option {
	return func(o *ExecOptions) { o.Observer = mw }
}

// WithEngineName sets observe.ExecMeta.Engine for this execution's
// telemetry. Only meaningful alongside WithObserver.
func WithEngineName(name string) Option {
	return func(o *ExecOptions) { o.EngineName = name }
}

// WithStageName sets observe.ExecMeta.Stage for this execution's
// telemetry. Only meaningful alongside WithObserver.
func WithStageName(name string) Option {
	return func(o *ExecOptions) { o.StageName = name }
}
