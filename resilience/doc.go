// Package resilience provides the resilience primitives that back bounded
// parallel execution: rate limiting, circuit breaking, retry, concurrency
// limiting, and timeouts. Patterns can be composed together using the
// Executor to build a full per-item execution chain, or used directly by
// the parallel and pipeline packages for finer-grained control over when
// each pattern observes an outcome.
//
// # Ecosystem Position
//
// resilience sits beneath the parallel executor, gating and classifying
// every attempt of the user-supplied work function:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                   Parallel Execution Flow                       │
//	├─────────────────────────────────────────────────────────────────┤
//	│                                                                 │
//	│   parallel.Engine   resilience              user function       │
//	│   ┌──────────┐    ┌───────────┐           ┌─────────┐          │
//	│   │ WorkItem │───▶│ Executor  │──────────▶│  f(x)   │          │
//	│   │  Attempt │    │           │           │         │          │
//	│   └──────────┘    │ ┌───────┐ │           └─────────┘          │
//	│                   │ │Bucket │ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │Limiter│ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │Circuit│ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │ Retry │ │                                │
//	│                   │ ├───────┤ │                                │
//	│                   │ │Timeout│ │                                │
//	│                   │ └───────┘ │                                │
//	│                   └───────────┘                                │
//	│                                                                 │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Resilience Patterns
//
// The package provides five core patterns:
//
//   - [CircuitBreaker]: Prevents cascading failures by stopping requests
//     once a rolling error rate crosses a threshold. Transitions through
//     Closed → Open → HalfOpen states.
//
//   - [Retry]: Automatically retries failed operations with configurable
//     backoff strategies (none, fixed, linear, exponential, exponential
//     with jitter).
//
//   - [TokenBucket]: Fractional-refill token bucket rate limiting, with
//     cooperative (cancellation-aware) waiting and a per-call token cost.
//
//   - [Limiter]: Channel-based concurrency semaphore that can be resized at
//     runtime, backing the adaptive concurrency controller.
//
//   - [Timeout]: Context-based timeout; a non-cooperative operation is
//     abandoned rather than blocking the caller.
//
// # Quick Start
//
//	// Individual pattern usage
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    ErrorThreshold:  0.5,
//	    MinObservations: 10,
//	    OpenDuration:    time.Minute,
//	})
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
//
//	// Composed patterns with Executor
//	executor := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewTokenBucket(resilience.TokenBucketConfig{
//	        TokensPerSecond: 100,
//	        BurstCapacity:   10,
//	    })),
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts: 3,
//	        BaseDelay:   100 * time.Millisecond,
//	    })),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	err = executor.Execute(ctx, func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
//
// # Execution Order
//
// When using the Executor, patterns are applied in this order (outermost first):
//
//  1. Rate Limiter (TokenBucket) - limits request rate
//  2. Limiter (bulkhead) - limits concurrency
//  3. Circuit Breaker - prevents cascading failures
//  4. Retry - retries on failure
//  5. Timeout - limits execution time (innermost)
//
// parallel.Engine does not use Executor (parallel.Simple does): it calls
// TokenBucket, CircuitBreaker, Retry, and Timeout directly so it can
// observe per-attempt outcomes (for metrics and the retry count recorded
// on each ItemOutcome) between stages, see parallel.Engine.
//
// # Thread Safety
//
// All exported types are safe for concurrent use after construction:
//
//   - [CircuitBreaker]: Allow()/RecordOutcome()/Execute()/State() are mutex-protected; Reset() is safe
//   - [Retry]: Execute() is stateless and safe for concurrent use
//   - [TokenBucket]: Allow(), AllowN(), Acquire(), AcquireN(), Execute() are mutex-protected
//   - [Limiter]: Acquire(), Release(), Execute(), SetMaxConcurrent() use a channel-backed semaphore
//   - [Timeout]: Execute() is stateless and safe for concurrent use
//   - [Executor]: Execute() is safe; all wrapped patterns maintain their guarantees
//
// # Error Handling
//
// These patterns return sentinel errors (use errors.Is for checking):
//
//   - [ErrCircuitOpen]: Circuit breaker is in open state, rejecting requests
//   - [ErrBulkheadFull]: Limiter at maximum concurrency
//   - [ErrTimeout]: Operation exceeded configured timeout
//
// [ErrMaxRetriesExceeded] and [ErrRateLimitExceeded] are declared but not
// returned: Retry returns the last attempt's error itself, and TokenBucket
// waits for a token (returning ctx.Err() if the wait is canceled).
//
// Example error handling:
//
//	err := executor.Execute(ctx, operation)
//	if errors.Is(err, resilience.ErrCircuitOpen) {
//	    // Service is unhealthy, circuit is protecting downstream
//	    log.Warn("circuit breaker open, using fallback")
//	    return fallbackResult, nil
//	}
//	if errors.Is(err, resilience.ErrBulkheadFull) {
//	    // Client should back off
//	    return nil, status.Error(codes.ResourceExhausted, "too many concurrent calls")
//	}
//
// # Callbacks and Observability
//
// Patterns support callbacks for observability integration:
//
//   - CircuitBreakerConfig.OnStateChange: Called on state transitions
//   - RetryConfig.OnRetry: Called before each retry attempt
//   - CircuitBreakerConfig.IsFailure: Custom failure classification
//   - RetryConfig.RetryIf: Custom retry decision logic (the transient predicate)
//
// # Integration
//
// resilience is consumed by:
//
//   - parallel: per-item admission, breaking, retry, and timeout
//   - pipeline: Throttle stages wrap a TokenBucket directly
//   - observe: connects callbacks to structured logging and metrics
package resilience
