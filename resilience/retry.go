package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffNone retries immediately with no delay.
	BackoffNone BackoffStrategy = iota
	// BackoffFixedDelay uses the same delay for every retry.
	BackoffFixedDelay
	// BackoffLinear increases delay linearly with attempt number.
	BackoffLinear
	// BackoffExponential doubles the delay each attempt.
	BackoffExponential
	// BackoffExponentialJitter picks a uniform random delay in
	// [0, D*2^(n-1)], decorrelated-jitter style.
	BackoffExponentialJitter
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the
	// initial one.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the base unit of backoff.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the maximum delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Strategy is the backoff strategy.
	// Default: BackoffNone (the zero value; NewRetry does not change it)
	Strategy BackoffStrategy

	// RetryIf (the transient predicate) determines if an error should
	// trigger a retry. Default: nothing is transient (no retries).
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt, with the attempt
	// number that just failed and the delay before the next one.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry implements a bounded retry loop: up to
// R+1 attempts, classifying each failure via RetryIf, sleeping according
// to Strategy between attempts, cooperatively honoring cancellation.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return false }
	}

	return &Retry{config: config}
}

// Execute runs the operation with retry logic. It returns the operation's
// error verbatim (callers classify cancellation vs. permanent vs.
// exhausted-retries by comparing against ctx.Err() and RetryIf).
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := op(ctx)

		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err

		// Permanent, or this was the last attempt: stop retrying.
		if attempt >= r.config.MaxAttempts || !r.config.RetryIf(err) {
			return lastErr
		}

		delay := r.calculateDelay(attempt)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	return lastErr
}

func (r *Retry) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffNone:
		delay = 0

	case BackoffFixedDelay:
		delay = r.config.BaseDelay

	case BackoffLinear:
		delay = r.config.BaseDelay * time.Duration(attempt)

	case BackoffExponential:
		delay = time.Duration(float64(r.config.BaseDelay) * math.Pow(2, float64(attempt-1)))

	case BackoffExponentialJitter:
		ceiling := float64(r.config.BaseDelay) * math.Pow(2, float64(attempt-1))
		if ceiling <= 0 {
			delay = 0
		} else {
			// #nosec G404 -- jitter is non-cryptographic timing variance.
			delay = time.Duration(rand.Float64() * ceiling)
		}
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}

	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
