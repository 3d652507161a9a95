package parallel

import (
	"container/ring"
	"sort"
	"sync"
	"time"

	"github.com/parallelrun/parallelrun/resilience"
)

// sample is one (latency, success) observation recorded by a worker after
// an item terminates.
type sample struct {
	latency time.Duration
	success bool
}

// AdaptiveController periodically raises or lowers the effective
// concurrency bound based on observed p50 latency and success rate. It
// resizes a resilience.Limiter rather than owning its own semaphore;
// existing in-flight work is never preempted.
type AdaptiveController struct {
	config  AdaptiveConfig
	limiter *resilience.Limiter

	mu         sync.Mutex
	window     *ring.Ring
	observed   int
	lastAdjust time.Time
}

// NewAdaptiveController builds a controller bound to limiter, whose
// MaxConcurrent is clamped to [config.Min, config.Max] and starts at
// config.Initial.
func NewAdaptiveController(config AdaptiveConfig, limiter *resilience.Limiter) *AdaptiveController {
	if config.Min < 1 {
		config.Min = 1
	}
	if config.Max < config.Min {
		config.Max = config.Min
	}
	if config.Initial < config.Min || config.Initial > config.Max {
		config.Initial = config.Min
	}
	if config.LowWaterAlpha <= 0 {
		config.LowWaterAlpha = 0.5
	}
	if config.SampleWindow < 1 {
		config.SampleWindow = 50
	}

	limiter.SetMaxConcurrent(config.Initial)

	return &AdaptiveController{
		config:     config,
		limiter:    limiter,
		window:     ring.New(config.SampleWindow),
		lastAdjust: time.Time{},
	}
}

// N returns the current effective concurrency bound.
func (c *AdaptiveController) N() int {
	return c.limiter.MaxConcurrent()
}

// RecordSample adds one (latency, success) observation and, once the
// window is due (SampleInterval elapsed, or the window has filled since
// the last adjustment), re-evaluates the concurrency bound.
func (c *AdaptiveController) RecordSample(latency time.Duration, success bool) {
	c.mu.Lock()
	c.window.Value = sample{latency: latency, success: success}
	c.window = c.window.Next()
	if c.observed < c.config.SampleWindow {
		c.observed++
	}

	due := c.observed >= c.config.SampleWindow
	if c.config.SampleInterval > 0 {
		due = due || time.Since(c.lastAdjust) >= c.config.SampleInterval
	}
	if !due {
		c.mu.Unlock()
		return
	}

	latencies, successRate := c.snapshotLocked()
	c.observed = 0
	c.lastAdjust = time.Now()
	c.mu.Unlock()

	c.maybeAdjust(latencies, successRate)
}

func (c *AdaptiveController) snapshotLocked() ([]time.Duration, float64) {
	latencies := make([]time.Duration, 0, c.observed)
	successes := 0

	c.window.Do(func(v any) {
		if v == nil {
			return
		}
		s := v.(sample)
		latencies = append(latencies, s.latency)
		if s.success {
			successes++
		}
	})

	if len(latencies) == 0 {
		return latencies, 1.0
	}
	return latencies, float64(successes) / float64(len(latencies))
}

func (c *AdaptiveController) maybeAdjust(latencies []time.Duration, successRate float64) {
	if len(latencies) == 0 {
		return
	}

	p50 := percentile(latencies, 0.5)
	old := c.limiter.MaxConcurrent()
	next := old

	switch {
	case p50 > c.config.TargetLatency || successRate < c.config.MinSuccessRate:
		next = old - 1
	case p50 < time.Duration(float64(c.config.TargetLatency)*c.config.LowWaterAlpha) && successRate >= c.config.MinSuccessRate:
		next = old + 1
	}

	if next < c.config.Min {
		next = c.config.Min
	}
	if next > c.config.Max {
		next = c.config.Max
	}
	if next == old {
		return
	}

	c.limiter.SetMaxConcurrent(next)
	if c.config.OnConcurrencyChange != nil {
		c.config.OnConcurrencyChange(old, next)
	}
}

// percentile returns the p-quantile (0..1) of a copy of durations, sorted
// ascending. p=0.5 is the median.
func percentile(durations []time.Duration, p float64) time.Duration {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
