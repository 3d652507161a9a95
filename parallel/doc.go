// Package parallel implements a bounded parallel executor: a producer
// pulls from a Source into a bounded channel, a pool of workers runs
// each item through the resilience admission gates and retry loop, and
// outcomes are emitted either as they complete or in ascending
// input-index order.
//
// Engine does not build on resilience.Executor's bundled decorator chain;
// it drives TokenBucket, CircuitBreaker, Retry, and the concurrency
// Limiter directly so it can attach a retry count and record a latency
// sample per item, none of which Executor's Execute exposes. Simple is the
// companion entry point for callers who don't need that introspection or
// actual concurrency: it runs items one at a time through a
// resilience.Executor built from the same ExecOptions.
package parallel
