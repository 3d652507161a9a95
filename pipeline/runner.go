package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/parallelrun/parallelrun/parallel"
)

// isCancellation reports whether err is a cancellation artifact rather
// than the failure that caused it (engine-level ErrCanceled, or a raw
// context error from a coordination stage).
func isCancellation(err error) bool {
	return errors.Is(err, parallel.ErrCanceled) || errors.Is(err, context.Canceled)
}

// Callbacks are the pipeline lifecycle hooks; Run invokes each at the
// corresponding transition. Any nil callback is skipped.
type Callbacks struct {
	OnPipelineStart    func()
	OnPipelineComplete func(PipelineResult)
	OnStageStart       func(name string)
	OnStageComplete    func(StageMetrics)
	OnStageError       func(name string, err error)
}

// RunnerConfig configures one pipeline run.
type RunnerConfig struct {
	// SourceBufferCapacity sizes the bounded queue between the source and
	// the first stage. Default: 1.
	SourceBufferCapacity int
	Callbacks            Callbacks
}

// Run wires source through stages in order, separated by the bounded
// queues each Stage creates internally. It returns the final stage's
// output channel immediately; the returned wait function blocks until
// every stage has terminated and
// returns the aggregated PipelineResult plus the first error encountered
// (a source failure, or any stage's terminal error).
func Run[T any](ctx context.Context, source parallel.Source[T], stages []Stage, cfg RunnerConfig) (<-chan any, func() (PipelineResult, error)) {
	if cfg.SourceBufferCapacity < 1 {
		cfg.SourceBufferCapacity = 1
	}
	if cfg.Callbacks.OnPipelineStart != nil {
		cfg.Callbacks.OnPipelineStart()
	}

	ctx, cancel := context.WithCancel(ctx)
	started := time.Now()

	head := make(chan any, cfg.SourceBufferCapacity)
	sourceErrCh := make(chan error, 1)

	go func() {
		defer close(head)
		defer close(sourceErrCh)
		for {
			item, ok, err := source.Next(ctx)
			if err != nil {
				sourceErrCh <- errors.Join(parallel.ErrSourceFailed, err)
				return
			}
			if !ok {
				return
			}
			select {
			case head <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	type stageHandle struct {
		name    string
		metrics func() StageMetrics
		wait    func() error
	}

	var handles []stageHandle
	cur := (<-chan any)(head)
	for _, stage := range stages {
		if cfg.Callbacks.OnStageStart != nil {
			cfg.Callbacks.OnStageStart(stage.Name())
		}
		out, metricsFn, waitFn := stage.run(ctx, cur)
		handles = append(handles, stageHandle{name: stage.Name(), metrics: metricsFn, wait: waitFn})
		cur = out
	}

	wait := func() (PipelineResult, error) {
		// Stage waits run concurrently: a stage that fails fast stops
		// reading its input, and only canceling the pipeline context frees
		// the upstream stages (and the source) still blocked on sends.
		stageErrs := make([]error, len(handles))
		var wg sync.WaitGroup
		for i, h := range handles {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stageErrs[i] = h.wait()
				if stageErrs[i] != nil {
					cancel()
				}
			}()
		}
		wg.Wait()
		cancel()

		// Prefer the stage error that caused the failure over the
		// ErrCanceled that canceling the pipeline induced in its peers.
		var firstErr error
		stageMetrics := make([]StageMetrics, 0, len(handles))
		for i, h := range handles {
			if err := stageErrs[i]; err != nil {
				if firstErr == nil || (isCancellation(firstErr) && !isCancellation(err)) {
					firstErr = err
				}
				if cfg.Callbacks.OnStageError != nil {
					cfg.Callbacks.OnStageError(h.name, err)
				}
			}
			m := h.metrics()
			stageMetrics = append(stageMetrics, m)
			if cfg.Callbacks.OnStageComplete != nil {
				cfg.Callbacks.OnStageComplete(m)
			}
		}

		if srcErr := <-sourceErrCh; srcErr != nil && firstErr == nil {
			firstErr = srcErr
		}

		result := PipelineResult{Elapsed: time.Since(started), Stages: stageMetrics}
		if len(stageMetrics) > 0 {
			result.ItemsProcessed = stageMetrics[0].ItemsIn
			last := stageMetrics[len(stageMetrics)-1]
			result.ItemsCompleted = last.ItemsOut
			// Every item entering the pipeline either reaches the sink or
			// doesn't; per-stage Failures remain available on Stages for
			// the error-only view.
			result.ItemsFailed = result.ItemsProcessed - result.ItemsCompleted
		}

		if cfg.Callbacks.OnPipelineComplete != nil {
			cfg.Callbacks.OnPipelineComplete(result)
		}

		return result, firstErr
	}

	return cur, wait
}
