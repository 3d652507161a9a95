package parallel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the execution-level failure kinds that aren't
// already covered by resilience's sentinels (ErrCircuitOpen,
// ErrRateLimitExceeded, ErrTimeout).
var (
	// ErrCanceled is returned when external cancellation wins over any
	// in-flight work. Always terminal, never retried.
	ErrCanceled = errors.New("parallel: execution canceled")

	// ErrSourceFailed wraps a failure from the input sequence itself. Always
	// fatal regardless of ErrorMode.
	ErrSourceFailed = errors.New("parallel: source sequence failed")

	// ErrAbandoned marks an outcome whose user function did not return
	// within its per-attempt timeout and was not cancellation-cooperative;
	// the goroutine is left running and its eventual result is discarded.
	ErrAbandoned = errors.New("parallel: attempt abandoned after timeout")

	// ErrPanicked wraps a panic recovered from the user function. The panic
	// is confined to that item and treated as a permanent error.
	ErrPanicked = errors.New("parallel: user function panicked")
)

// AggregateError collects the permanent errors from a CollectAndContinue
// execution. The execution fails with this error once the source is
// exhausted if len(Errors) > 0.
type AggregateError struct {
	// Errors holds one entry per failed WorkItem, in completion order.
	Errors []ItemError
}

// ItemError pairs a WorkItem index with the error that item terminated
// with, plus how many retries were made after the first attempt.
type ItemError struct {
	Index   int
	Err     error
	Retries int

	// AttemptErrors holds each failed attempt's error in attempt order;
	// the last entry is the terminal error Err wraps. Empty for failures
	// synthesized before any attempt ran (breaker-open rejections).
	AttemptErrors []error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v (after %d retries)", e.Index, e.Err, e.Retries)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func (a *AggregateError) Error() string {
	if len(a.Errors) == 1 {
		return fmt.Sprintf("1 item failed: %v", &a.Errors[0])
	}
	return fmt.Sprintf("%d items failed (first: %v)", len(a.Errors), &a.Errors[0])
}

// Unwrap exposes every collected item error to errors.Is / errors.As.
func (a *AggregateError) Unwrap() []error {
	errs := make([]error, len(a.Errors))
	for i := range a.Errors {
		errs[i] = &a.Errors[i]
	}
	return errs
}
