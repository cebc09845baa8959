// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed connection state
//   - Candidate, filter and copy outcome counts
//   - Copy latency
//   - Cascade cancels and orphaned copies
//   - Open order exposure
//   - Telemetry events dropped on overflow
package metrics
