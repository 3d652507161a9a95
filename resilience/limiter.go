package resilience

import (
	"context"
	"sync"
	"time"
)

// LimiterConfig configures the concurrency limiter.
type LimiterConfig struct {
	// MaxConcurrent is the initial maximum number of concurrent slots.
	// Default: 10
	MaxConcurrent int

	// MaxWait is the maximum time to wait for a slot.
	// Default: 0 (no waiting, fail immediately). WaitForever blocks until
	// a slot frees or the context is canceled.
	MaxWait time.Duration
}

// WaitForever disables the acquire deadline: Acquire blocks until a slot
// frees or the context is canceled.
const WaitForever time.Duration = -1

// Limiter is a resizable concurrency bulkhead: a channel-backed semaphore
// whose capacity can be grown or shrunk at runtime, used by the adaptive
// concurrency controller to change the effective worker count
// without preempting in-flight work.
type Limiter struct {
	config LimiterConfig

	mu        sync.Mutex
	max       int
	active    int
	maxActive int
	rejected  int64
	slotFree  chan struct{} // buffered signal, one send per released slot
}

// NewLimiter creates a new concurrency limiter.
func NewLimiter(config LimiterConfig) *Limiter {
	// Apply defaults
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Limiter{
		config:   config,
		max:      config.MaxConcurrent,
		slotFree: make(chan struct{}, 1),
	}
}

// NewBulkhead is a compatibility constructor matching the prior bulkhead
// naming; it takes the same LimiterConfig as NewLimiter.
func NewBulkhead(config LimiterConfig) *Limiter {
	return NewLimiter(config)
}

// Acquire acquires a slot in the limiter.
// Returns ErrBulkheadFull if no slot is available (and MaxWait is 0, or
// is exceeded).
func (l *Limiter) Acquire(ctx context.Context) error {
	deadline := time.Time{}
	if l.config.MaxWait > 0 {
		deadline = time.Now().Add(l.config.MaxWait)
	}

	for {
		l.mu.Lock()
		if l.active < l.max {
			l.active++
			if l.active > l.maxActive {
				l.maxActive = l.active
			}
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if l.config.MaxWait == 0 {
			l.mu.Lock()
			l.rejected++
			l.mu.Unlock()
			return ErrBulkheadFull
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if l.config.MaxWait > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				l.mu.Lock()
				l.rejected++
				l.mu.Unlock()
				return ErrBulkheadFull
			}
			timer = time.NewTimer(remaining)
			timerC = timer.C
		}

		select {
		case <-l.slotFree:
			if timer != nil {
				timer.Stop()
			}
			// Loop around and retry the acquire.
		case <-timerC:
			l.mu.Lock()
			l.rejected++
			l.mu.Unlock()
			return ErrBulkheadFull
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		}
	}
}

// Release releases a slot in the limiter.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()

	select {
	case l.slotFree <- struct{}{}:
	default:
	}
}

// Execute runs the operation within the limiter.
func (l *Limiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	return op(ctx)
}

// SetMaxConcurrent resizes the limiter. The new bound takes effect on the
// next admission decision; slots already in use are never preempted.
func (l *Limiter) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}

	l.mu.Lock()
	l.max = n
	l.mu.Unlock()

	select {
	case l.slotFree <- struct{}{}:
	default:
	}
}

// MaxConcurrent returns the current concurrency bound.
func (l *Limiter) MaxConcurrent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

// Metrics returns current limiter statistics.
func (l *Limiter) Metrics() BulkheadMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	return BulkheadMetrics{
		Active:        l.active,
		MaxActive:     l.maxActive,
		Available:     l.max - l.active,
		MaxConcurrent: l.max,
		Rejected:      l.rejected,
	}
}

// BulkheadMetrics contains limiter statistics.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}
