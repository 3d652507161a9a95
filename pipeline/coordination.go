package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/parallelrun/parallelrun/resilience"
)

// bufferStage is a pure in-memory decoupler: a bounded queue with no
// transformation.
type bufferStage struct {
	name     string
	capacity int
}

// Buffer builds a Stage that copies its input to its output through a
// channel of the given capacity, decoupling upstream production rate from
// downstream consumption rate.
func Buffer(name string, capacity int) Stage {
	if capacity < 1 {
		capacity = 1
	}
	return bufferStage{name: name, capacity: capacity}
}

func (s bufferStage) Name() string { return s.name }

func (s bufferStage) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	out := make(chan any, s.capacity)
	var itemsIn, itemsOut atomic.Int64
	elapsed, _ := stageClock()
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer close(done)
		for {
			select {
			case v, ok := <-in:
				if !ok {
					return
				}
				itemsIn.Add(1)
				select {
				case out <- v:
					itemsOut.Add(1)
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
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
	return out, metrics, wait
}

// throttleStage gates its output through a resilience.TokenBucket.
type throttleStage struct {
	name   string
	bucket *resilience.TokenBucket
}

// Throttle builds a Stage that admits at most rate items/sec, up to burst
// at once, forwarding every item unchanged once admitted.
func Throttle(name string, rate float64, burst int) Stage {
	return throttleStage{
		name: name,
		bucket: resilience.NewTokenBucket(resilience.TokenBucketConfig{
			TokensPerSecond: rate,
			BurstCapacity:   burst,
		}),
	}
}

func (s throttleStage) Name() string { return s.name }

func (s throttleStage) run(ctx context.Context, in <-chan any) (<-chan any, func() StageMetrics, func() error) {
	out := make(chan any)
	var itemsIn, itemsOut atomic.Int64
	elapsed, _ := stageClock()
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer close(done)
		for v := range in {
			itemsIn.Add(1)
			if err := s.bucket.Acquire(ctx); err != nil {
				return
			}
			select {
			case out <- v:
				itemsOut.Add(1)
			case <-ctx.Done():
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
	return out, metrics, wait
}
