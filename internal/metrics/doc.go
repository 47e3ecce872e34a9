// Package metrics aggregates attempt outcomes into the routing score.
//
// Outcomes flow through a Collector: a buffered channel drained by one
// goroutine, which feeds the Aggregator and, when configured, a Prometheus
// Exporter. Publish blocks instead of dropping when the buffer is full, and
// after shutdown outcomes are applied inline, so no attempt is ever lost.
//
// The score is defined over requests and attempts:
//
//	global_regret    = total_requests - total_success
//	best_guess_score = total_success - total_penalty
//
// where total_penalty counts attempts past the penalty-free window.
//
// Example usage:
//
//	collector := metrics.NewCollector(1024, 10000, logger)
//	collector.Start(ctx)
//
//	collector.Publish(outcome)
//
//	snapshot := collector.Snapshot("v4")
//
// A SnapshotWriter persists snapshots as JSON on an interval and once more on
// shutdown.
package metrics
