package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(LimiterConfig{})

	if l.MaxConcurrent() != 10 {
		t.Errorf("MaxConcurrent() = %d, want 10", l.MaxConcurrent())
	}
}

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 2,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("First Acquire() error = %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Second Acquire() error = %v", err)
	}

	if err := l.Acquire(context.Background()); err != ErrBulkheadFull {
		t.Errorf("Third Acquire() error = %v, want ErrBulkheadFull", err)
	}

	l.Release()

	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after release error = %v", err)
	}
}

func TestLimiter_AcquireWithWait(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 1,
		MaxWait:       100 * time.Millisecond,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("First Acquire() error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()

	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Second Acquire() error = %v", err)
	}
}

func TestLimiter_AcquireTimeout(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 1,
		MaxWait:       10 * time.Millisecond,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("First Acquire() error = %v", err)
	}

	if err := l.Acquire(context.Background()); err != ErrBulkheadFull {
		t.Errorf("Second Acquire() error = %v, want ErrBulkheadFull", err)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 1,
		MaxWait:       time.Second,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("First Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Acquire(ctx); err != context.Canceled {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestLimiter_Execute(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 1,
	})

	executed := false
	err := l.Execute(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("Operation was not executed")
	}
}

func TestLimiter_ExecuteFull(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 1,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	err := l.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	if err != ErrBulkheadFull {
		t.Errorf("Execute() error = %v, want ErrBulkheadFull", err)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 5,
	})

	var (
		wg         sync.WaitGroup
		maxActive  int32
		currActive int32
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := l.Execute(context.Background(), func(ctx context.Context) error {
				curr := atomic.AddInt32(&currActive, 1)
				defer atomic.AddInt32(&currActive, -1)

				for {
					max := atomic.LoadInt32(&maxActive)
					if curr <= max || atomic.CompareAndSwapInt32(&maxActive, max, curr) {
						break
					}
				}

				time.Sleep(10 * time.Millisecond)
				return nil
			})

			if err != nil && err != ErrBulkheadFull {
				t.Errorf("Execute() error = %v", err)
			}
		}()
	}

	wg.Wait()

	max := atomic.LoadInt32(&maxActive)
	if max > 5 {
		t.Errorf("Max concurrent = %d, want <= 5", max)
	}
}

func TestLimiter_SetMaxConcurrent(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 1,
	})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Acquire(context.Background()); err != ErrBulkheadFull {
		t.Errorf("Acquire() at capacity = %v, want ErrBulkheadFull", err)
	}

	l.SetMaxConcurrent(2)

	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() after resize = %v, want nil", err)
	}
	if got := l.MaxConcurrent(); got != 2 {
		t.Errorf("MaxConcurrent() = %d, want 2", got)
	}
}

func TestLimiter_Metrics(t *testing.T) {
	l := NewLimiter(LimiterConfig{
		MaxConcurrent: 3,
	})

	_ = l.Acquire(context.Background())
	_ = l.Acquire(context.Background())

	l2 := NewLimiter(LimiterConfig{MaxConcurrent: 1})
	_ = l2.Acquire(context.Background())
	_ = l2.Acquire(context.Background()) // Rejected.

	metrics := l.Metrics()

	if metrics.Active != 2 {
		t.Errorf("Metrics.Active = %d, want 2", metrics.Active)
	}
	if metrics.MaxActive != 2 {
		t.Errorf("Metrics.MaxActive = %d, want 2", metrics.MaxActive)
	}
	if metrics.Available != 1 {
		t.Errorf("Metrics.Available = %d, want 1", metrics.Available)
	}
	if metrics.MaxConcurrent != 3 {
		t.Errorf("Metrics.MaxConcurrent = %d, want 3", metrics.MaxConcurrent)
	}

	l2Metrics := l2.Metrics()
	if l2Metrics.Rejected != 1 {
		t.Errorf("Metrics.Rejected = %d, want 1", l2Metrics.Rejected)
	}
}

func TestLimiter_WaitForever(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1, MaxWait: WaitForever})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- l.Acquire(context.Background())
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second Acquire() returned %v before a slot freed", err)
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("second Acquire() error = %v after release", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Acquire() did not proceed after a slot freed")
	}
}

func TestLimiter_WaitForeverContextCancellation(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1, MaxWait: WaitForever})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan error, 1)
	go func() {
		acquired <- l.Acquire(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-acquired:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire() did not return after cancellation")
	}
}
