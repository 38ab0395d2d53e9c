// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Stream connection state, connect attempts and reconnects
//   - Inbound frame rates by kind, malformed and unknown frames
//   - Handler invocations and recovered handler faults
//   - Subscribed topic counts
//   - History writer flushes and errors
package metrics
