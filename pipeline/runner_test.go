package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parallelrun/parallelrun/parallel"
)

func drain(ch <-chan any) []any {
	items := make([]any, 0)
	for v := range ch {
		items = append(items, v)
	}
	return items
}

// Input [1..4] expanded by SelectMany(x -> [1..x]), grouped by
// Batch(size=3), summed by BatchTransform: expect [4, 6, 6, 4].
func TestRun_FlattenAndBatch(t *testing.T) {
	source := parallel.FromSlice([]int{1, 2, 3, 4})

	expand := func(_ context.Context, x int) ([]int, error) {
		out := make([]int, x)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}
	sum := func(_ context.Context, batch []int) (int, error) {
		total := 0
		for _, v := range batch {
			total += v
		}
		return total, nil
	}

	stages := []Stage{
		SelectMany[int, int]("expand", expand, parallel.New(parallel.WithMaxConcurrency(4), parallel.WithOrderedOutput(true))),
		BatchTransform[int, int]("sum", 3, 0, sum, parallel.New(parallel.WithMaxConcurrency(1), parallel.WithOrderedOutput(true))),
	}

	out, wait := Run[int](context.Background(), source, stages, RunnerConfig{SourceBufferCapacity: 4})
	items := drain(out)

	result, err := wait()
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}

	want := []int{4, 6, 6, 4}
	if len(items) != len(want) {
		t.Fatalf("len(items) = %d, want %d (got %v)", len(items), len(want), items)
	}
	for i, v := range items {
		if v.(int) != want[i] {
			t.Errorf("items[%d] = %v, want %d", i, v, want[i])
		}
	}
	if result.ItemsProcessed != 4 {
		t.Errorf("ItemsProcessed = %d, want 4", result.ItemsProcessed)
	}
}

// Throttle(5/sec, burst=5) -> Transform(identity) over [1..10] cannot
// finish in under ~1s: five items pass on the burst, five wait for
// refill.
func TestRun_Throttle(t *testing.T) {
	source := parallel.FromSlice(intRange10())

	identity := func(_ context.Context, x int) (int, error) { return x, nil }

	stages := []Stage{
		Throttle("throttle", 5, 5),
		Transform[int, int]("identity", identity, parallel.New(parallel.WithMaxConcurrency(10))),
	}

	start := time.Now()
	out, wait := Run[int](context.Background(), source, stages, RunnerConfig{SourceBufferCapacity: 10})
	items := drain(out)
	elapsed := time.Since(start)

	if _, err := wait(); err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("len(items) = %d, want 10", len(items))
	}
	if elapsed < 900*time.Millisecond {
		t.Errorf("elapsed = %v, want >= ~1000ms", elapsed)
	}
}

func intRange10() []int {
	out := make([]int, 10)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestRun_TransformFilterChain(t *testing.T) {
	source := parallel.FromSlice(intRange10())

	double := func(_ context.Context, x int) (int, error) { return x * 2, nil }
	evenOnly := func(_ context.Context, x int) (bool, error) { return x%4 == 0, nil }

	stages := []Stage{
		Transform[int, int]("double", double, parallel.New(parallel.WithMaxConcurrency(4))),
		Filter[int]("div4", evenOnly, parallel.New(parallel.WithMaxConcurrency(4))),
	}

	out, wait := Run[int](context.Background(), source, stages, RunnerConfig{})
	items := drain(out)
	result, err := wait()
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}

	for _, v := range items {
		if v.(int)%4 != 0 {
			t.Errorf("item %v not divisible by 4", v)
		}
	}
	if len(result.Stages) != 2 {
		t.Fatalf("len(result.Stages) = %d, want 2", len(result.Stages))
	}

	// Doubling [1..10] leaves the multiples of 4: 4, 8, 12, 16, 20.
	if result.ItemsProcessed != 10 {
		t.Errorf("ItemsProcessed = %d, want 10", result.ItemsProcessed)
	}
	if result.ItemsCompleted != 5 {
		t.Errorf("ItemsCompleted = %d, want 5", result.ItemsCompleted)
	}
	if result.ItemsFailed != result.ItemsProcessed-result.ItemsCompleted {
		t.Errorf("ItemsFailed = %d, want ItemsProcessed - ItemsCompleted = %d",
			result.ItemsFailed, result.ItemsProcessed-result.ItemsCompleted)
	}
	// The filtered-out items were dropped, not errored.
	if result.Stages[1].Failures != 0 {
		t.Errorf("filter stage Failures = %d, want 0", result.Stages[1].Failures)
	}
}

// A stage failing fast mid-pipeline must terminate the whole pipeline,
// including the upstream stages and source still blocked on sends.
func TestRun_FailFastStageTerminatesPipeline(t *testing.T) {
	errBad := errors.New("bad item")
	source := parallel.FromFunc(func(ctx context.Context) (int, bool, error) {
		return 1, true, nil // infinite
	})

	identity := func(_ context.Context, x int) (int, error) { return x, nil }
	failing := func(_ context.Context, x int) (int, error) { return 0, errBad }

	stages := []Stage{
		Transform[int, int]("upstream", identity, parallel.New(parallel.WithMaxConcurrency(2))),
		Transform[int, int]("failing", failing, parallel.New(
			parallel.WithMaxConcurrency(2),
			parallel.WithErrorMode(parallel.FailFast),
		)),
	}

	out, wait := Run[int](context.Background(), source, stages, RunnerConfig{})

	done := make(chan struct{})
	var result PipelineResult
	var err error
	go func() {
		defer close(done)
		for range out {
		}
		result, err = wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not terminate after a fail-fast stage error")
	}

	if !errors.Is(err, errBad) {
		t.Errorf("wait() error = %v, want it to wrap errBad", err)
	}
	if len(result.Stages) != 2 {
		t.Errorf("len(result.Stages) = %d, want 2", len(result.Stages))
	}
}

func TestRun_LifecycleCallbacks(t *testing.T) {
	source := parallel.FromSlice(intRange10())
	identity := func(_ context.Context, x int) (int, error) { return x, nil }

	var mu sync.Mutex
	var started, completed []string
	pipelineStarted := false
	var final *PipelineResult

	cfg := RunnerConfig{
		Callbacks: Callbacks{
			OnPipelineStart: func() { pipelineStarted = true },
			OnPipelineComplete: func(r PipelineResult) {
				mu.Lock()
				final = &r
				mu.Unlock()
			},
			OnStageStart: func(name string) {
				mu.Lock()
				started = append(started, name)
				mu.Unlock()
			},
			OnStageComplete: func(m StageMetrics) {
				mu.Lock()
				completed = append(completed, m.Name)
				mu.Unlock()
			},
		},
	}

	stages := []Stage{
		Transform[int, int]("a", identity, parallel.New(parallel.WithMaxConcurrency(2))),
		Transform[int, int]("b", identity, parallel.New(parallel.WithMaxConcurrency(2))),
	}

	out, wait := Run[int](context.Background(), source, stages, cfg)
	drain(out)
	result, err := wait()
	if err != nil {
		t.Fatalf("wait() error = %v", err)
	}

	if !pipelineStarted {
		t.Error("OnPipelineStart never fired")
	}
	if len(started) != 2 || started[0] != "a" || started[1] != "b" {
		t.Errorf("OnStageStart order = %v, want [a b]", started)
	}
	if len(completed) != 2 {
		t.Errorf("OnStageComplete fired %d times, want 2", len(completed))
	}
	if final == nil {
		t.Fatal("OnPipelineComplete never fired")
	}
	if final.ItemsCompleted != result.ItemsCompleted {
		t.Errorf("callback result = %+v, wait result = %+v", *final, result)
	}
}

func TestRun_StageErrorCallback(t *testing.T) {
	errBad := errors.New("bad item")
	source := parallel.FromSlice(intRange10())
	failing := func(_ context.Context, x int) (int, error) {
		if x == 5 {
			return 0, errBad
		}
		return x, nil
	}

	var mu sync.Mutex
	var errStages []string

	cfg := RunnerConfig{
		Callbacks: Callbacks{
			OnStageError: func(name string, err error) {
				mu.Lock()
				errStages = append(errStages, name)
				mu.Unlock()
			},
		},
	}

	stages := []Stage{
		Transform[int, int]("flaky", failing, parallel.New(
			parallel.WithMaxConcurrency(2),
			parallel.WithErrorMode(parallel.CollectAndContinue),
		)),
	}

	out, wait := Run[int](context.Background(), source, stages, cfg)
	drain(out)
	_, err := wait()

	var agg *parallel.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("wait() error = %v, want *parallel.AggregateError", err)
	}
	if len(errStages) != 1 || errStages[0] != "flaky" {
		t.Errorf("OnStageError stages = %v, want [flaky]", errStages)
	}
}

func TestRun_ExternalCancellation(t *testing.T) {
	source := parallel.FromFunc(func(ctx context.Context) (int, bool, error) {
		return 1, true, nil // infinite
	})
	slow := func(ctx context.Context, x int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return x, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	stages := []Stage{
		Transform[int, int]("slow", slow, parallel.New(parallel.WithMaxConcurrency(2))),
	}

	out, wait := Run[int](ctx, source, stages, RunnerConfig{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range out {
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not terminate after external cancellation")
	}

	if _, err := wait(); err == nil {
		t.Error("wait() error = nil, want a cancellation error")
	}
}
