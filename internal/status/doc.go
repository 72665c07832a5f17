// Package status renders the operator view of the balancer: backend health
// from the registry, event counters and the most recent log lines recorded by
// the in-process metrics collector.
package status
