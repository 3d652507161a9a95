package parallel

import "context"

// MapParallel runs f over source with up to opts.MaxConcurrency concurrent
// calls. It returns the outcome channel
// immediately; the returned wait function blocks until the execution has
// fully terminated and reports the terminal error (nil, *AggregateError,
// ErrCanceled, or the FailFast item error) per the configured ErrorMode.
func MapParallel[T, U any](ctx context.Context, source Source[T], f func(context.Context, T) (U, error), opts ExecOptions) (<-chan ItemOutcome[U], func() error) {
	e := newEngine(source, f, opts)
	return e.run(ctx)
}

// MapParallelCollect materializes MapParallel's output into a slice. When
// opts.OrderedOutput is set the slice is in input order; otherwise it is in
// completion order.
func MapParallelCollect[T, U any](ctx context.Context, source Source[T], f func(context.Context, T) (U, error), opts ExecOptions) ([]ItemOutcome[U], error) {
	out, wait := MapParallel(ctx, source, f, opts)

	results := make([]ItemOutcome[U], 0)
	for o := range out {
		results = append(results, o)
	}

	return results, wait()
}

// ForEachParallel runs f over source for its side effects only, dropping
// results.
func ForEachParallel[T any](ctx context.Context, source Source[T], f func(context.Context, T) error, opts ExecOptions) error {
	wrapped := func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, f(ctx, item)
	}

	out, wait := MapParallel(ctx, source, wrapped, opts)
	for range out {
		// results carry no value; draining unblocks the engine's workers.
	}
	return wait()
}

// BatchParallel accumulates source into fixed-size chunks of batchSize
// (the last chunk may be short) and runs fBatch once per chunk, treating
// each chunk as a single WorkItem.
func BatchParallel[T, U any](ctx context.Context, source Source[T], batchSize int, fBatch func(context.Context, []T) (U, error), opts ExecOptions) (<-chan ItemOutcome[U], func() error) {
	if batchSize < 1 {
		batchSize = 1
	}
	return MapParallel(ctx, batchSource[T]{inner: source, size: batchSize}, fBatch, opts)
}

// batchSource wraps a Source[T] into a Source[[]T] that groups the inner
// sequence into fixed-size chunks.
type batchSource[T any] struct {
	inner Source[T]
	size  int
}

func (b batchSource[T]) Next(ctx context.Context) ([]T, bool, error) {
	batch := make([]T, 0, b.size)
	for len(batch) < b.size {
		item, ok, err := b.inner.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		batch = append(batch, item)
	}
	if len(batch) == 0 {
		return nil, false, nil
	}
	return batch, true, nil
}
