package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.ErrorThreshold != 0.5 {
		t.Errorf("ErrorThreshold = %f, want 0.5", cb.config.ErrorThreshold)
	}
	if cb.config.MinObservations != 10 {
		t.Errorf("MinObservations = %d, want 10", cb.config.MinObservations)
	}
	if cb.config.OpenDuration != 30*time.Second {
		t.Errorf("OpenDuration = %v, want 30s", cb.config.OpenDuration)
	}
	if cb.config.HalfOpenProbeCount != 1 {
		t.Errorf("HalfOpenProbeCount = %d, want 1", cb.config.HalfOpenProbeCount)
	}
}

func TestCircuitBreaker_OpensAtErrorThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 4,
		OpenDuration:    time.Second,
	})

	testErr := errors.New("test error")

	// Fewer than MinObservations: never opens, regardless of failure rate.
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
		if !errors.Is(err, testErr) {
			t.Errorf("Execute() error = %v, want %v", err, testErr)
		}
		if cb.State() != StateClosed {
			t.Errorf("After %d failures, state = %v, want closed", i+1, cb.State())
		}
	}

	// Fourth failure reaches MinObservations with a 100% error rate.
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	if !errors.Is(err, testErr) {
		t.Errorf("Execute() error = %v, want %v", err, testErr)
	}
	if cb.State() != StateOpen {
		t.Errorf("After 4 failures, state = %v, want open", cb.State())
	}

	// Next request is rejected without calling the operation.
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("Should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 4,
	})

	testErr := errors.New("test error")

	// 1 failure in 4 observations (25%) stays below the 50% threshold.
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return testErr })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 1,
		OpenDuration:    10 * time.Millisecond,
	})

	testErr := errors.New("test error")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if cb.State() != StateHalfOpen {
		t.Errorf("State = %v, want half-open", cb.State())
	}
}

func TestCircuitBreaker_RecoverySuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 1,
		OpenDuration:    10 * time.Millisecond,
	})

	testErr := errors.New("test error")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_RecoveryRequiresAllProbes(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:     0.5,
		MinObservations:    1,
		OpenDuration:       10 * time.Millisecond,
		HalfOpenProbeCount: 2,
	})

	testErr := errors.New("test error")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	time.Sleep(20 * time.Millisecond)

	// One successful probe of the two required is not enough to close.
	if err := cb.Allow(); err != nil {
		t.Fatalf("first probe Allow() error = %v", err)
	}
	cb.RecordOutcome(false)

	if cb.State() != StateHalfOpen {
		t.Errorf("State after 1/2 probes = %v, want half-open", cb.State())
	}

	if err := cb.Allow(); err != nil {
		t.Fatalf("second probe Allow() error = %v", err)
	}
	cb.RecordOutcome(false)

	if cb.State() != StateClosed {
		t.Errorf("State after 2/2 probes = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_RecoveryFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 1,
		OpenDuration:    10 * time.Millisecond,
	})

	testErr := errors.New("test error")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 1,
		OpenDuration:    time.Hour,
	})

	testErr := errors.New("test error")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("After reset, state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []struct {
		from, to State
	}
	var mu sync.Mutex

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 1,
		OpenDuration:    10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, struct{ from, to State }{from, to})
			mu.Unlock()
		},
	})

	testErr := errors.New("test error")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	time.Sleep(20 * time.Millisecond)
	_ = cb.State() // Trigger Open -> HalfOpen transition.

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	mu.Lock()
	defer mu.Unlock()

	if len(transitions) < 2 {
		t.Errorf("Expected at least 2 transitions, got %d", len(transitions))
	}

	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Errorf("First transition: %v -> %v, want closed -> open", transitions[0].from, transitions[0].to)
	}
}

func TestCircuitBreaker_WindowEvictsOldestObservation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.5,
		MinObservations: 3,
		WindowSize:      3,
	})

	testErr := errors.New("test error")

	// One failure followed by three successes: the fourth outcome evicts
	// the failure from the 3-wide window, leaving a clean failure count.
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return testErr })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })

	if cb.State() != StateClosed {
		t.Fatalf("State = %v, want closed", cb.State())
	}

	metrics := cb.Metrics()
	if metrics.Failures != 0 {
		t.Errorf("Failures = %d, want 0 after the failure rolled off", metrics.Failures)
	}
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:  0.9,
		MinObservations: 100,
	})

	testErr := errors.New("test error")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	metrics := cb.Metrics()

	if metrics.State != StateClosed {
		t.Errorf("Metrics.State = %v, want closed", metrics.State)
	}
	if metrics.Failures != 2 {
		t.Errorf("Metrics.Failures = %d, want 2", metrics.Failures)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
