package parallel

import (
	"context"
	"time"
)

// startProgressReporter launches a ticking goroutine that emits
// ProgressSnapshots on opts.Progress.ReportInterval. It is a no-op when
// Progress isn't configured. The returned stop function blocks until the
// goroutine has exited.
func (e *engine[T, U]) startProgressReporter(ctx context.Context) func() {
	if e.opts.Progress == nil || e.opts.Progress.OnProgress == nil {
		return func() {}
	}
	interval := e.opts.Progress.ReportInterval
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.opts.Progress.OnProgress(e.progressSnapshot())
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

// startMetricsSampler is the MetricsSnapshot analogue of
// startProgressReporter.
func (e *engine[T, U]) startMetricsSampler(ctx context.Context) func() {
	if e.opts.Metrics == nil || e.opts.Metrics.OnMetricsSample == nil {
		return func() {}
	}
	interval := e.opts.Metrics.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.opts.Metrics.OnMetricsSample(e.metricsSnapshot())
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func (e *engine[T, U]) progressSnapshot() ProgressSnapshot {
	completed := e.itemsCompleted.Load()
	failed := e.itemsFailed.Load()
	elapsed := time.Since(e.startedAt)

	var itemsPerSecond float64
	if elapsed > 0 {
		itemsPerSecond = float64(completed+failed) / elapsed.Seconds()
	}

	snap := ProgressSnapshot{
		ItemsCompleted: completed,
		ItemsFailed:    failed,
		Elapsed:        elapsed,
		ItemsPerSecond: itemsPerSecond,
	}
	if e.totalItems != nil {
		total := *e.totalItems
		snap.TotalItems = &total
		if total > 0 {
			pct := float64(completed+failed) / float64(total) * 100
			snap.PercentComplete = &pct
		}
	}
	return snap
}

func (e *engine[T, U]) metricsSnapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ItemsInFlight:      int(e.inFlight.Load()),
		ItemsCompleted:     e.itemsCompleted.Load(),
		TotalFailures:      e.itemsFailed.Load(),
		TotalRetries:       e.totalRetries.Load(),
		ItemsAbandoned:     e.itemsAbandoned.Load(),
		CurrentConcurrency: e.opts.MaxConcurrency,
		Elapsed:            time.Since(e.startedAt),
	}
	if e.adaptive != nil {
		snap.CurrentConcurrency = e.adaptive.N()
	}
	if e.breaker != nil {
		snap.BreakerState = e.breaker.State()
	}
	return snap
}
