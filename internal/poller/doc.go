// Package poller implements the exposure reporter.
//
// The reporter:
//   - Samples open-order exposure on a fixed interval
//   - Reports once immediately on start
//   - Hands each snapshot to a handler (telemetry in production)
package poller
