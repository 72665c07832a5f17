// Package metrics provides the in-process event sink for the load balancer.
//
// Collector implements events.Sink and uses a channel-based pipeline to
// aggregate, without blocking the request path:
//   - Named counters (requests processed, backend failures, outage responses)
//   - Keyed fields such as the last health verdict per backend
//   - The most recent log lines, for the status page
//   - Forwarding round trip times with percentiles (P50, P95, P99)
//
// The same values are exported through a dedicated Prometheus registry.
// Events are sent with non-blocking semantics; when the buffer is full the
// event is dropped and counted.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.IncrementCounter("requests_processed")
//	collector.SetField("backend_health", "localhost:13001", "true")
//
//	snapshot := collector.Snapshot(50)
//
// The collector drains buffered events when its context is cancelled.
package metrics
