package pipeline

import "time"

// StageMetrics are one stage's counters, aggregated into a
// PipelineResult at pipeline termination.
type StageMetrics struct {
	Name     string
	ItemsIn  int64
	ItemsOut int64
	Failures int64
	Retries  int64
	Elapsed  time.Duration
}

// PipelineResult is the aggregate summary emitted once at pipeline
// termination. ItemsFailed is always ItemsProcessed - ItemsCompleted:
// every item that entered the pipeline and did not reach the sink,
// whether it errored or was dropped by a Filter. The per-stage Failures
// counters on Stages count errors only.
type PipelineResult struct {
	ItemsProcessed int64
	ItemsCompleted int64
	ItemsFailed    int64
	Elapsed        time.Duration
	Stages         []StageMetrics
}
