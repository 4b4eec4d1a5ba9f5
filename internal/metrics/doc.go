// Package metrics provides the router's metrics.
//
// Fold turns the counters each provider keeps about itself into one
// cross-provider snapshot: totals, success rate, request-weighted latency,
// tokens, cost and a per-provider breakdown.
//
// Collector is a channel-based event pipeline fed by the router, the
// health sweep and the circuit breakers. It tracks:
//   - Attempts per provider, split by success and failure kind
//   - Primary selections
//   - Latency percentiles (P50, P95, P99)
//   - Fallbacks, degraded and failed requests
//   - Health and breaker state
//
// Events are sent without blocking and processed on a dedicated goroutine
// that drains its buffer on shutdown. Every event is mirrored into
// Prometheus series registered on the Registerer passed to NewCollector.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(1000, reg, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventAttemptCompleted,
//		Backend:  "openai",
//		Duration: 150 * time.Millisecond,
//		Success:  true,
//	})
//
//	snapshot := collector.Snapshot("tier-affinity")
package metrics
