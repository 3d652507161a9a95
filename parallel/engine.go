package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parallelrun/parallelrun/observe"
	"github.com/parallelrun/parallelrun/resilience"
)

// engine is the core parallel executor: one producer pulling from
// Source[T] into a bounded in-channel, a pool of workers running the
// admission gates (TokenBucket, CircuitBreaker) and the retry loop around
// the user function, and an emission path (direct or reorder-buffered).
type engine[T, U any] struct {
	source Source[T]
	fn     func(context.Context, T) (U, error)
	opts   ExecOptions

	bucket      *resilience.TokenBucket
	tokensPerOp int
	breaker     *resilience.CircuitBreaker
	retryConfig resilience.RetryConfig
	adaptive    *AdaptiveController
	concGate    *resilience.Limiter // only set when opts.Adaptive is configured

	out     chan ItemOutcome[U]
	reorder *reorderBuffer[U] // only set when opts.OrderedOutput

	totalItems *int64 // set when the source reports its length up front

	startedAt      time.Time
	itemsCompleted atomic.Int64
	itemsFailed    atomic.Int64
	itemsAbandoned atomic.Int64
	totalRetries   atomic.Int64
	inFlight       atomic.Int64

	mu      sync.Mutex
	aggErrs []ItemError
	ffErr   error // set once under FailFast
}

// newEngine wires the resilience primitives named by opts, building each
// gate only when its config is present, like resilience.Executor's WithX
// options.
func newEngine[T, U any](source Source[T], fn func(context.Context, T) (U, error), opts ExecOptions) *engine[T, U] {
	// Apply defaults, for callers that hand-build ExecOptions instead of
	// going through New.
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.ChannelCapacity < 1 {
		opts.ChannelCapacity = 1
	}
	if opts.EngineName == "" {
		opts.EngineName = "parallel"
	}

	e := &engine[T, U]{
		source: source,
		fn:     fn,
		opts:   opts,
		retryConfig: resilience.RetryConfig{
			MaxAttempts: opts.MaxRetries + 1,
			BaseDelay:   opts.BaseDelay,
			MaxDelay:    opts.MaxDelay,
			Strategy:    opts.BackoffStrategy,
			RetryIf:     opts.TransientPredicate,
		},
	}

	if opts.RateLimit != nil {
		e.bucket = resilience.NewTokenBucket(resilience.TokenBucketConfig{
			TokensPerSecond: opts.RateLimit.TokensPerSecond,
			BurstCapacity:   opts.RateLimit.BurstCapacity,
		})
		e.tokensPerOp = opts.RateLimit.TokensPerOp
		if e.tokensPerOp < 1 {
			e.tokensPerOp = 1
		}
	}

	if opts.Breaker != nil {
		e.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			ErrorThreshold:     opts.Breaker.ErrorThreshold,
			MinObservations:    opts.Breaker.MinObservations,
			WindowSize:         opts.Breaker.WindowSize,
			OpenDuration:       opts.Breaker.OpenDuration,
			HalfOpenProbeCount: opts.Breaker.HalfOpenProbeCount,
			OnStateChange:      opts.Breaker.OnStateChange,
		})
	}

	if opts.Adaptive != nil {
		e.concGate = resilience.NewLimiter(resilience.LimiterConfig{
			MaxConcurrent: opts.Adaptive.Initial,
			MaxWait:       resilience.WaitForever,
		})
		e.adaptive = NewAdaptiveController(*opts.Adaptive, e.concGate)
	}

	if opts.OrderedOutput {
		e.reorder = newReorderBuffer[U](opts.ChannelCapacity + e.workerCount())
	}

	if sized, ok := any(source).(interface{ Len() int }); ok {
		n := int64(sized.Len())
		e.totalItems = &n
	}

	return e
}

// invoke runs the user function for one attempt, confining any panic to
// that item as an ErrPanicked permanent error.
func (e *engine[T, U]) invoke(ctx context.Context, payload T) (value U, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return e.fn(ctx, payload)
}

func (e *engine[T, U]) workerCount() int {
	if e.opts.Adaptive != nil {
		return e.opts.Adaptive.Max
	}
	return e.opts.MaxConcurrency
}

// run starts the execution and returns an outcome channel plus a Wait
// function that blocks until the execution has fully terminated and
// returns the terminal error per the configured ErrorMode (nil on a
// successful or best-effort run).
func (e *engine[T, U]) run(ctx context.Context) (<-chan ItemOutcome[U], func() error) {
	e.startedAt = time.Now()

	egCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(egCtx)

	inCh := make(chan WorkItem[T], e.opts.ChannelCapacity)
	e.out = make(chan ItemOutcome[U], e.opts.ChannelCapacity)

	eg.Go(func() error {
		defer close(inCh)
		return e.produce(egCtx, inCh)
	})

	workers := e.workerCount()
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for wi := range inCh {
				e.process(egCtx, wi, cancel)
			}
			return nil
		})
	}

	var emitWG sync.WaitGroup
	if e.reorder != nil {
		emitWG.Add(1)
		go func() {
			defer emitWG.Done()
			for {
				o, ok := e.reorder.Next()
				if !ok {
					return
				}
				e.out <- o
			}
		}()
	}

	stopProgress := e.startProgressReporter(ctx)
	stopMetrics := e.startMetricsSampler(ctx)

	// The finalizer closes e.out once the workers are done, not wait():
	// callers drain the outcome channel to completion before calling wait,
	// so the close must not depend on wait having been called.
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = eg.Wait()
		stopProgress()
		stopMetrics()
		cancel()

		if e.reorder != nil {
			e.reorder.Close()
			emitWG.Wait()
		}
		close(e.out)
	}()

	wait := func() error {
		<-done
		return e.terminalError(ctx, runErr)
	}

	return e.out, wait
}

func (e *engine[T, U]) terminalError(ctx context.Context, runErr error) error {
	if ctx.Err() != nil {
		return ErrCanceled
	}
	if runErr != nil {
		return runErr
	}

	switch e.opts.ErrorMode {
	case FailFast:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.ffErr
	case CollectAndContinue:
		e.mu.Lock()
		defer e.mu.Unlock()
		if len(e.aggErrs) > 0 {
			return &AggregateError{Errors: append([]ItemError(nil), e.aggErrs...)}
		}
		return nil
	default: // BestEffort
		return nil
	}
}

// produce pulls from the source into in, stopping on exhaustion,
// cancellation, or a source error (always fatal). Cancellation is a clean
// stop here, not an error: terminalError distinguishes external
// cancellation from a FailFast unwind by looking at the caller's context,
// and neither may be reported as a source failure.
func (e *engine[T, U]) produce(ctx context.Context, in chan<- WorkItem[T]) error {
	index := 0
	for {
		payload, ok, err := e.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Join(ErrSourceFailed, err)
		}
		if !ok {
			return nil
		}

		select {
		case in <- WorkItem[T]{Index: index, Payload: payload}:
			index++
		case <-ctx.Done():
			return nil
		}
	}
}

// process runs one WorkItem through admission, the retry loop, and
// outcome recording/emission.
func (e *engine[T, U]) process(ctx context.Context, wi WorkItem[T], cancelFailFast context.CancelFunc) {
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	if ctx.Err() != nil {
		e.emit(ItemOutcome[U]{Index: wi.Index, Err: ErrCanceled})
		return
	}

	if e.bucket != nil {
		if err := e.bucket.AcquireN(ctx, e.tokensPerOp); err != nil {
			e.emit(ItemOutcome[U]{Index: wi.Index, Err: ErrCanceled})
			return
		}
	}

	// The adaptive slot covers only the admission check and the user-call
	// attempts. It must be released before emission: a worker blocked in
	// the reorder buffer holding its slot could otherwise starve the
	// worker carrying the gap index out of ever acquiring one.
	if e.concGate != nil {
		if err := e.concGate.Acquire(ctx); err != nil {
			e.emit(ItemOutcome[U]{Index: wi.Index, Err: ErrCanceled})
			return
		}
	}
	releaseSlot := func() {
		if e.concGate != nil {
			e.concGate.Release()
		}
	}

	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			releaseSlot()
			var zero U
			e.recordFinal(wi, zero, err, 0, nil, cancelFailFast)
			return
		}
	}

	retries := 0
	var attemptErrs []error
	config := e.retryConfig
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries++
		e.totalRetries.Add(1)
		attemptErrs = append(attemptErrs, err)
	}
	retry := resilience.NewRetry(config)

	var value U
	attempt := 0
	start := time.Now()
	runErr := retry.Execute(ctx, func(attemptCtx context.Context) error {
		attempt++
		call := func(callCtx context.Context) error {
			if e.opts.PerItemTimeout <= 0 {
				v, err := e.invoke(callCtx, wi.Payload)
				value = v
				return err
			}
			err := resilience.ExecuteWithTimeout(callCtx, e.opts.PerItemTimeout, func(innerCtx context.Context) error {
				v, err := e.invoke(innerCtx, wi.Payload)
				value = v
				return err
			})
			if errors.Is(err, resilience.ErrTimeout) {
				// The goroutine resilience.ExecuteWithTimeout started is
				// still running and its result will be discarded.
				e.itemsAbandoned.Add(1)
			}
			return err
		}

		if e.opts.Observer == nil {
			return call(attemptCtx)
		}

		meta := observe.ExecMeta{
			Engine:    e.opts.EngineName,
			Stage:     e.opts.StageName,
			ItemIndex: int64(wi.Index),
			Attempt:   attempt,
		}
		wrapped := e.opts.Observer.Wrap(func(ctx context.Context, _ observe.ExecMeta, _ any) (any, error) {
			return nil, call(ctx)
		})
		_, err := wrapped(attemptCtx, meta, wi.Payload)
		return err
	})
	latency := time.Since(start)
	releaseSlot()

	if e.breaker != nil {
		// A canceled attempt says nothing about the downstream's health;
		// record it as a non-failure so shutdown can't trip the breaker.
		e.breaker.RecordOutcome(runErr != nil && ctx.Err() == nil)
	}

	if runErr == nil {
		e.itemsCompleted.Add(1)
		if e.adaptive != nil {
			e.adaptive.RecordSample(latency, true)
		}
		e.emit(ItemOutcome[U]{Index: wi.Index, Value: value, Retries: retries})
		return
	}

	if ctx.Err() != nil {
		e.emit(ItemOutcome[U]{Index: wi.Index, Err: ErrCanceled, Retries: retries})
		return
	}

	if e.adaptive != nil {
		e.adaptive.RecordSample(latency, false)
	}
	attemptErrs = append(attemptErrs, runErr)
	if e.opts.PerItemTimeout > 0 && errors.Is(runErr, resilience.ErrTimeout) {
		runErr = errors.Join(ErrAbandoned, runErr)
	}
	e.recordFinal(wi, value, runErr, retries, attemptErrs, cancelFailFast)
}

// recordFinal handles a terminal (non-success) outcome: applies the
// configured ErrorMode and emits the ItemOutcome. value carries whatever
// the last attempt produced alongside its error (Tap relies on this to
// forward the item even when the side effect failed).
func (e *engine[T, U]) recordFinal(wi WorkItem[T], value U, err error, retries int, attemptErrs []error, cancelFailFast context.CancelFunc) {
	e.itemsFailed.Add(1)

	itemErr := ItemError{Index: wi.Index, Err: err, Retries: retries, AttemptErrors: attemptErrs}

	switch e.opts.ErrorMode {
	case FailFast:
		e.mu.Lock()
		if e.ffErr == nil {
			e.ffErr = &itemErr
		}
		e.mu.Unlock()
		cancelFailFast()
	case CollectAndContinue:
		e.mu.Lock()
		e.aggErrs = append(e.aggErrs, itemErr)
		e.mu.Unlock()
	case BestEffort:
		// Observable through OnCompleteItem and metrics only; never
		// accumulated, so an infinite source cannot grow the error list
		// without bound.
	}

	e.emit(ItemOutcome[U]{Index: wi.Index, Value: value, Err: err, Retries: retries})
}

// emit delivers the outcome downstream (direct send or reorder buffer) and
// invokes OnCompleteItem.
func (e *engine[T, U]) emit(o ItemOutcome[U]) {
	if e.opts.OnCompleteItem != nil {
		e.opts.OnCompleteItem(ItemOutcome[any]{Index: o.Index, Value: any(o.Value), Err: o.Err, Retries: o.Retries})
	}

	if e.reorder != nil {
		e.reorder.Submit(o)
		return
	}

	e.out <- o
}
