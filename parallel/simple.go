package parallel

import (
	"context"

	"github.com/parallelrun/parallelrun/resilience"
)

// Simple runs fn over items one at a time, decorated by resilience.Executor's
// bundled chain (rate limit, circuit breaker, retry, timeout) built from the
// same ExecOptions fields Engine reads. It is the ready-made path for
// callers that want ExecOptions' resilience gates applied to a small or
// strictly sequential workload without Engine's worker pool, reorder
// buffer, or per-item retry-count/latency introspection — use MapParallel
// when that introspection or actual concurrency is needed.
//
// Simple stops and returns the items collected so far on the first
// permanent error, mirroring FailFast; there is no CollectAndContinue mode
// since there is no concurrent item to continue.
func Simple[T, U any](ctx context.Context, items []T, fn func(context.Context, T) (U, error), opts ExecOptions) ([]U, error) {
	exec := newExecutor(opts)

	results := make([]U, 0, len(items))
	for _, item := range items {
		var value U
		err := exec.Execute(ctx, func(attemptCtx context.Context) error {
			v, err := fn(attemptCtx, item)
			value = v
			return err
		})
		if err != nil {
			return results, err
		}
		results = append(results, value)
	}
	return results, nil
}

// newExecutor assembles a resilience.Executor from opts' admission gates,
// mirroring newEngine's per-gate construction but composed through
// Executor's bundled chain rather than driven gate-by-gate.
func newExecutor(opts ExecOptions) *resilience.Executor {
	var execOpts []resilience.ExecutorOption

	if opts.RateLimit != nil {
		execOpts = append(execOpts, resilience.WithRateLimiter(resilience.NewTokenBucket(resilience.TokenBucketConfig{
			TokensPerSecond: opts.RateLimit.TokensPerSecond,
			BurstCapacity:   opts.RateLimit.BurstCapacity,
		})))
	}

	if opts.Breaker != nil {
		execOpts = append(execOpts, resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			ErrorThreshold:     opts.Breaker.ErrorThreshold,
			MinObservations:    opts.Breaker.MinObservations,
			WindowSize:         opts.Breaker.WindowSize,
			OpenDuration:       opts.Breaker.OpenDuration,
			HalfOpenProbeCount: opts.Breaker.HalfOpenProbeCount,
			OnStateChange:      opts.Breaker.OnStateChange,
		})))
	}

	execOpts = append(execOpts, resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: opts.MaxRetries + 1,
		BaseDelay:   opts.BaseDelay,
		MaxDelay:    opts.MaxDelay,
		Strategy:    opts.BackoffStrategy,
		RetryIf:     opts.TransientPredicate,
	})))

	if opts.PerItemTimeout > 0 {
		execOpts = append(execOpts, resilience.WithTimeout(opts.PerItemTimeout))
	}

	return resilience.NewExecutor(execOpts...)
}
