package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// TokenBucketConfig configures the token bucket rate limiter.
type TokenBucketConfig struct {
	// TokensPerSecond is the refill rate r.
	// Default: 100
	TokensPerSecond float64

	// BurstCapacity is the bucket capacity B.
	// Default: 10
	BurstCapacity int
}

// TokenBucket is a fractional-token rate limiter: refill is
// computed lazily on every acquire from elapsed wall-clock time, waiters
// sleep cooperatively (honoring context cancellation) rather than busy
// polling, and a canceled wait never consumes tokens.
type TokenBucket struct {
	config TokenBucketConfig

	mu          sync.Mutex
	tokens      float64
	lastRefresh time.Time

	// turnstile serializes admission of blocked waiters so a later
	// arrival cannot repeatedly out-race an earlier one for the same
	// refill; it is released while a waiter sleeps so other waiters are
	// not starved behind one long wait.
	turnstile chan struct{}
}

// NewTokenBucket creates a new token bucket.
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	// Apply defaults
	if config.TokensPerSecond <= 0 {
		config.TokensPerSecond = 100
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = 10
	}

	return &TokenBucket{
		config:      config,
		tokens:      float64(config.BurstCapacity),
		lastRefresh: time.Now(),
		turnstile:   make(chan struct{}, 1),
	}
}

// Allow checks if one token is available without blocking.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN checks if n tokens are available without blocking.
func (tb *TokenBucket) AllowN(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}

	return false
}

// Acquire blocks until one token is available or ctx is canceled.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	return tb.AcquireN(ctx, 1)
}

// AcquireN blocks until cost tokens are available or ctx is canceled. A
// canceled wait returns ctx.Err() without consuming any tokens.
func (tb *TokenBucket) AcquireN(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tb.turnstile <- struct{}{}:
		}

		tb.mu.Lock()
		tb.refillLocked()
		if tb.tokens >= float64(cost) {
			tb.tokens -= float64(cost)
			tb.mu.Unlock()
			<-tb.turnstile
			return nil
		}
		deficit := float64(cost) - tb.tokens
		wait := time.Duration(deficit / tb.config.TokensPerSecond * float64(time.Second))
		tb.mu.Unlock()
		<-tb.turnstile

		// Small skew avoids a thundering-herd re-check when several
		// waiters compute the same wait for the same refill event.
		// #nosec G404 -- skew is non-cryptographic timing jitter.
		skew := time.Duration(rand.Int63n(int64(time.Millisecond) + 1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait + skew):
			// Re-enter the loop and recheck.
		}
	}
}

// Execute runs the operation once one token has been acquired, blocking
// until available or ctx is canceled.
func (tb *TokenBucket) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := tb.Acquire(ctx); err != nil {
		return err
	}
	return op(ctx)
}

func (tb *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefresh)
	tb.lastRefresh = now

	tb.tokens += elapsed.Seconds() * tb.config.TokensPerSecond

	if tb.tokens > float64(tb.config.BurstCapacity) {
		tb.tokens = float64(tb.config.BurstCapacity)
	}
}

// Tokens returns the current number of available tokens.
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return tb.tokens
}

// Reset resets the bucket to full capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = float64(tb.config.BurstCapacity)
	tb.lastRefresh = time.Now()
}
