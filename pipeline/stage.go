// Package pipeline composes parallel.Engine executions into a linear chain
// of Stages, separated by bounded queues that provide backpressure.
// Stages are typed at construction (Transform[T,U], Filter[T],
// ...) but erase to chan any at their boundaries so a single []Stage slice
// can chain arbitrarily many distinct element types — the generic
// constructors close over the concrete types a Runner never needs to see.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/parallelrun/parallelrun/parallel"
)

// Stage is one element of a linear pipeline. Stages wrapping a
// parallel.Engine (Transform, Filter, Tap, BatchTransform, SelectMany)
// inherit its resilience gates; pure coordination stages (Batch, Buffer,
// Throttle) do not.
type Stage interface {
	Name() string

	// run drives one stage's execution. It must return promptly; out is
	// closed once the stage is done producing, and wait blocks until every
	// goroutine the stage started has exited, returning the stage's
	// terminal error (nil on success).
	run(ctx context.Context, in <-chan any) (out <-chan any, metrics func() StageMetrics, wait func() error)
}

// typedSource adapts a type-erased upstream channel into a parallel.Source
// of the stage's actual element type, closing over T so the engine sees a
// normal generic Source.
type typedSource[T any] struct {
	ch <-chan any
}

func (s typedSource[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, false, nil
		}
		return v.(T), true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// observedOpts returns opts with StageName defaulted to name when an
// Observer is configured but the caller left StageName blank, so every
// built-in Stage labels its telemetry without extra caller boilerplate.
func observedOpts(opts parallel.ExecOptions, name string) parallel.ExecOptions {
	if opts.Observer != nil && opts.StageName == "" {
		opts.StageName = name
	}
	return opts
}

// stageClock starts the Elapsed counter reported in every StageMetrics.
func stageClock() (func() time.Duration, time.Time) {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }, start
}

// forward sends v downstream, reporting whether it was delivered. Once ctx
// is canceled the item is dropped instead, so a downstream stage that has
// stopped reading can never wedge the drain loop that empties the engine.
func forward(ctx context.Context, out chan<- any, v any) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// asyncWait starts engineWait concurrently with the caller's draining
// goroutine and returns a wait function that blocks on its result. The
// engine closes its out channel from its own finalizer goroutine, so the
// drain loop ranging over out ends whether or not engineWait has been
// called yet.
func asyncWait(engineWait func() error) func() error {
	done := make(chan error, 1)
	go func() { done <- engineWait() }()
	return func() error { return <-done }
}

// transformStage wraps parallel.MapParallel to map T -> U.
type transformStage[T, U any] struct {
	name string
	f    func(context.Context, T) (U, error)
	opts parallel.ExecOptions
}

// Transform builds a Stage that maps T to U using a parallel.Engine
// configured by opts (per-stage concurrency, retries, error mode, ...).
func Transform[T, U any](name string, f func(context.Context, T) (U, error), opts parallel.ExecOptions) Stage {
	return transformStage[T, U]{name: name, f: f, opts: opts}
}

func (s transformStage[T, U]) Name() string { return s.name }

func (s transformStage[T, U]) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	src := typedSource[T]{ch: in}
	opts := observedOpts(s.opts, s.name)
	out, wait := parallel.MapParallel[T, U](ctx, src, s.f, opts)

	erased := make(chan any, s.opts.ChannelCapacity)
	var itemsIn, itemsOut, failures, retries atomic.Int64
	elapsed, _ := stageClock()

	go func() {
		defer close(erased)
		for o := range out {
			itemsIn.Add(1)
			retries.Add(int64(o.Retries))
			if o.Ok() {
				if forward(ctx, erased, o.Value) {
					itemsOut.Add(1)
				}
			} else {
				failures.Add(1)
			}
		}
	}()

	metrics := func() StageMetrics {
		return StageMetrics{
			Name: s.name, ItemsIn: itemsIn.Load(), ItemsOut: itemsOut.Load(),
			Failures: failures.Load(), Retries: retries.Load(), Elapsed: elapsed(),
		}
	}
	return erased, metrics, asyncWait(wait)
}

// filterStage wraps parallel.MapParallel to compute (item, keep) pairs and
// drop keep=false.
type filterStage[T any] struct {
	name string
	pred func(context.Context, T) (bool, error)
	opts parallel.ExecOptions
}

// Filter builds a Stage that drops items for which pred returns false or
// an error.
func Filter[T any](name string, pred func(context.Context, T) (bool, error), opts parallel.ExecOptions) Stage {
	return filterStage[T]{name: name, pred: pred, opts: opts}
}

func (s filterStage[T]) Name() string { return s.name }

func (s filterStage[T]) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	src := typedSource[T]{ch: in}
	f := func(ctx context.Context, item T) (struct {
		item T
		keep bool
	}, error) {
		keep, err := s.pred(ctx, item)
		return struct {
			item T
			keep bool
		}{item: item, keep: keep}, err
	}
	out, wait := parallel.MapParallel(ctx, src, f, observedOpts(s.opts, s.name))

	erased := make(chan any, s.opts.ChannelCapacity)
	var itemsIn, itemsOut, failures, retries atomic.Int64
	elapsed, _ := stageClock()

	go func() {
		defer close(erased)
		for o := range out {
			itemsIn.Add(1)
			retries.Add(int64(o.Retries))
			if !o.Ok() {
				failures.Add(1)
				continue
			}
			if o.Value.keep {
				if forward(ctx, erased, o.Value.item) {
					itemsOut.Add(1)
				}
			}
		}
	}()

	metrics := func() StageMetrics {
		return StageMetrics{
			Name: s.name, ItemsIn: itemsIn.Load(), ItemsOut: itemsOut.Load(),
			Failures: failures.Load(), Retries: retries.Load(), Elapsed: elapsed(),
		}
	}
	return erased, metrics, asyncWait(wait)
}

// tapStage runs a side effect and forwards every item unchanged.
type tapStage[T any] struct {
	name string
	side func(context.Context, T) error
	opts parallel.ExecOptions
}

// Tap builds a Stage that executes side for every item and forwards the
// item regardless of side's outcome (failures are still counted).
func Tap[T any](name string, side func(context.Context, T) error, opts parallel.ExecOptions) Stage {
	return tapStage[T]{name: name, side: side, opts: opts}
}

func (s tapStage[T]) Name() string { return s.name }

func (s tapStage[T]) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	src := typedSource[T]{ch: in}
	f := func(ctx context.Context, item T) (T, error) {
		err := s.side(ctx, item)
		return item, err
	}
	out, wait := parallel.MapParallel(ctx, src, f, observedOpts(s.opts, s.name))

	erased := make(chan any, s.opts.ChannelCapacity)
	var itemsIn, itemsOut, failures, retries atomic.Int64
	elapsed, _ := stageClock()

	go func() {
		defer close(erased)
		for o := range out {
			itemsIn.Add(1)
			retries.Add(int64(o.Retries))
			if !o.Ok() {
				failures.Add(1)
			}
			if forward(ctx, erased, o.Value) {
				itemsOut.Add(1)
			}
		}
	}()

	metrics := func() StageMetrics {
		return StageMetrics{
			Name: s.name, ItemsIn: itemsIn.Load(), ItemsOut: itemsOut.Load(),
			Failures: failures.Load(), Retries: retries.Load(), Elapsed: elapsed(),
		}
	}
	return erased, metrics, asyncWait(wait)
}

// selectManyStage expands each item into 0..m items, flattened in the
// order the underlying engine emits the outer outcome (completion order,
// or input order when opts.OrderedOutput).
type selectManyStage[T, U any] struct {
	name string
	f    func(context.Context, T) ([]U, error)
	opts parallel.ExecOptions
}

// SelectMany builds a flatten Stage.
func SelectMany[T, U any](name string, f func(context.Context, T) ([]U, error), opts parallel.ExecOptions) Stage {
	return selectManyStage[T, U]{name: name, f: f, opts: opts}
}

func (s selectManyStage[T, U]) Name() string { return s.name }

func (s selectManyStage[T, U]) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	src := typedSource[T]{ch: in}
	out, wait := parallel.MapParallel[T, []U](ctx, src, s.f, observedOpts(s.opts, s.name))

	erased := make(chan any, s.opts.ChannelCapacity)
	var itemsIn, itemsOut, failures, retries atomic.Int64
	elapsed, _ := stageClock()

	go func() {
		defer close(erased)
		for o := range out {
			itemsIn.Add(1)
			retries.Add(int64(o.Retries))
			if !o.Ok() {
				failures.Add(1)
				continue
			}
			for _, v := range o.Value {
				if forward(ctx, erased, v) {
					itemsOut.Add(1)
				}
			}
		}
	}()

	metrics := func() StageMetrics {
		return StageMetrics{
			Name: s.name, ItemsIn: itemsIn.Load(), ItemsOut: itemsOut.Load(),
			Failures: failures.Load(), Retries: retries.Load(), Elapsed: elapsed(),
		}
	}
	return erased, metrics, asyncWait(wait)
}

// CustomStage is a user-provided stage conforming to the same run contract
// as the built-in stages.
type CustomStage interface {
	Name() string
	Run(ctx context.Context, in <-chan any) (out <-chan any, metrics func() StageMetrics, wait func() error)
}

type customAdapter struct{ s CustomStage }

// Custom wraps a user-provided CustomStage as a Stage.
func Custom(s CustomStage) Stage { return customAdapter{s: s} }

func (c customAdapter) Name() string { return c.s.Name() }

func (c customAdapter) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	return c.s.Run(ctx, in)
}
