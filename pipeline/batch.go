package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/parallelrun/parallelrun/parallel"
)

// batchStage groups items into fixed-size chunks, optionally also
// flushing early once the oldest buffered item has aged past timeout.
// It is a pure coordination stage (single-reader, single-writer) — it
// does not wrap a parallel.Engine.
type batchStage[T any] struct {
	name    string
	size    int
	timeout time.Duration
}

// Batch builds a Stage that groups its input into chunks of exactly size
// (the final chunk may be short). A timeout of 0 disables time-based
// flushing; the chunk only closes once it reaches size or the upstream
// closes.
func Batch[T any](name string, size int, timeout time.Duration) Stage {
	if size < 1 {
		size = 1
	}
	return batchStage[T]{name: name, size: size, timeout: timeout}
}

func (s batchStage[T]) Name() string { return s.name }

func (s batchStage[T]) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	erased := make(chan any, 1)
	var itemsIn, itemsOut atomic.Int64
	elapsed, _ := stageClock()
	done := make(chan struct{})

	go func() {
		defer close(erased)
		defer close(done)

		batch := make([]T, 0, s.size)
		var flush <-chan time.Time
		var timer *time.Timer

		emit := func() {
			if len(batch) == 0 {
				return
			}
			if forward(ctx, erased, batch) {
				itemsOut.Add(1)
			}
			batch = make([]T, 0, s.size)
			if timer != nil {
				timer.Stop()
				flush = nil
			}
		}

		for {
			select {
			case v, ok := <-in:
				if !ok {
					emit()
					return
				}
				itemsIn.Add(1)
				batch = append(batch, v.(T))
				if len(batch) == 1 && s.timeout > 0 {
					timer = time.NewTimer(s.timeout)
					flush = timer.C
				}
				if len(batch) >= s.size {
					emit()
				}
			case <-flush:
				emit()
			case <-ctx.Done():
				emit()
				return
			}
		}
	}()

	metrics := func() StageMetrics {
		return StageMetrics{Name: s.name, ItemsIn: itemsIn.Load(), ItemsOut: itemsOut.Load(), Elapsed: elapsed()}
	}
	wait := func() error {
		<-done
		return ctx.Err()
	}
	return erased, metrics, wait
}

// batchTransformStage composes Batch with Transform on the resulting
// batches.
type batchTransformStage[T, U any] struct {
	name    string
	size    int
	timeout time.Duration
	f       func(context.Context, []T) (U, error)
	opts    parallel.ExecOptions
}

// BatchTransform builds a Stage that batches input into chunks of size
// (flushed early after timeout if > 0) and maps each chunk through f.
func BatchTransform[T, U any](name string, size int, timeout time.Duration, f func(context.Context, []T) (U, error), opts parallel.ExecOptions) Stage {
	if size < 1 {
		size = 1
	}
	return batchTransformStage[T, U]{name: name, size: size, timeout: timeout, f: f, opts: opts}
}

func (s batchTransformStage[T, U]) Name() string { return s.name }

func (s batchTransformStage[T, U]) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	batcher := Batch[T](s.name+":batch", s.size, s.timeout)
	batched, batchMetrics, batchWait := batcher.run(ctx, in)

	transformer := Transform[[]T, U](s.name+":transform", s.f, s.opts)
	out, transformMetrics, transformWait := transformer.run(ctx, batched)

	metrics := func() StageMetrics {
		b, t := batchMetrics(), transformMetrics()
		return StageMetrics{
			Name: s.name, ItemsIn: b.ItemsIn, ItemsOut: t.ItemsOut,
			Failures: t.Failures, Retries: t.Retries, Elapsed: t.Elapsed,
		}
	}
	wait := func() error {
		if err := batchWait(); err != nil {
			return err
		}
		return transformWait()
	}
	return out, metrics, wait
}
