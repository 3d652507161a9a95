package resilience

import (
	"container/ring"
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// ErrorThreshold is the fraction of failing outcomes in the rolling
	// window (0, 1] that trips the breaker from Closed to Open.
	// Default: 0.5
	ErrorThreshold float64

	// MinObservations is the minimum number of outcomes that must be
	// recorded in the current window before ErrorThreshold is evaluated.
	// Default: 10
	MinObservations int

	// WindowSize is the number of most-recent outcomes retained for the
	// rolling error-rate computation.
	// Default: 20
	WindowSize int

	// OpenDuration is how long the breaker stays Open before allowing a
	// half-open probe.
	// Default: 30 seconds
	OpenDuration time.Duration

	// HalfOpenProbeCount is the number of concurrent probe calls (K)
	// admitted while HalfOpen. All K must succeed to close the circuit;
	// any single failure reopens it.
	// Default: 1
	HalfOpenProbeCount int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool
}

// CircuitBreaker implements a three-state (Closed/Open/HalfOpen) breaker
// over a rolling window of outcomes: Closed trips to Open
// when failures/window >= ErrorThreshold and window >= MinObservations;
// Open transitions to HalfOpen after OpenDuration; HalfOpen admits up to
// HalfOpenProbeCount concurrent probes and closes only if all of them
// succeed.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu           sync.Mutex
	state        State
	window       *ring.Ring // holds boolValue(isFailure) for each recorded outcome
	observed     int        // number of outcomes recorded since the window was last reset
	failures     int        // failures currently present in the window
	openedAt     time.Time
	halfOpenInFl int
	halfOpenOK   int
	halfOpenBad  int
}

type boolValue bool

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = 0.5
	}
	if config.MinObservations <= 0 {
		config.MinObservations = 10
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 20
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}
	if config.HalfOpenProbeCount <= 0 {
		config.HalfOpenProbeCount = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		window: ring.New(config.WindowSize),
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := op(ctx)
	cb.RecordOutcome(cb.config.IsFailure(err))
	return err
}

// Allow reports whether a call may proceed, admitting it (consuming a
// half-open probe slot if the breaker is HalfOpen). Every call that
// returns nil MUST be paired with exactly one RecordOutcome call.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenInFl >= cb.config.HalfOpenProbeCount {
			return ErrCircuitOpen
		}
		cb.halfOpenInFl++
	}

	return nil
}

// RecordOutcome records the final outcome (after any retries below the
// breaker) of a call previously admitted by Allow.
func (cb *CircuitBreaker) RecordOutcome(isFailure bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state

	switch cb.state {
	case StateClosed:
		cb.recordWindowLocked(isFailure)
		if cb.observed >= cb.config.MinObservations &&
			float64(cb.failures)/float64(cb.observed) >= cb.config.ErrorThreshold {
			cb.openLocked()
		}

	case StateHalfOpen:
		cb.halfOpenInFl--
		if isFailure {
			cb.halfOpenBad++
			cb.openLocked()
		} else {
			cb.halfOpenOK++
			if cb.halfOpenOK >= cb.config.HalfOpenProbeCount {
				cb.closeLocked()
			}
		}
	}

	if oldState != cb.state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, cb.state)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.closeLocked()

	if oldState != StateClosed && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, StateClosed)
	}
}

// currentStateLocked advances Open → HalfOpen when OpenDuration has
// elapsed; callers must hold cb.mu.
func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.OpenDuration {
		prev := cb.state
		cb.state = StateHalfOpen
		cb.halfOpenInFl = 0
		cb.halfOpenOK = 0
		cb.halfOpenBad = 0
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(prev, StateHalfOpen)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.halfOpenInFl = 0
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state = StateClosed
	cb.window = ring.New(cb.config.WindowSize)
	cb.observed = 0
	cb.failures = 0
	cb.halfOpenInFl = 0
	cb.halfOpenOK = 0
	cb.halfOpenBad = 0
}

// recordWindowLocked pushes an outcome into the rolling window, evicting
// the oldest observation once the window is full.
func (cb *CircuitBreaker) recordWindowLocked(isFailure bool) {
	if cb.observed >= cb.config.WindowSize {
		if evicted, ok := cb.window.Value.(boolValue); ok && bool(evicted) {
			cb.failures--
		}
	} else {
		cb.observed++
	}

	cb.window.Value = boolValue(isFailure)
	if isFailure {
		cb.failures++
	}
	cb.window = cb.window.Next()
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:       cb.currentStateLocked(),
		Observed:    cb.observed,
		Failures:    cb.failures,
		HalfOpenOK:  cb.halfOpenOK,
		HalfOpenBad: cb.halfOpenBad,
		OpenedAt:    cb.openedAt,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State       State
	Observed    int
	Failures    int
	HalfOpenOK  int
	HalfOpenBad int
	OpenedAt    time.Time
}
