// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Realtime connection state, reconnect attempts and auth failures
//   - Inbound events by name and dropped emits by reason
//   - Read-through cache hits, misses and fetch errors per cache
//   - Degraded-mode refreshes
//   - Location writer throughput and overflow counts
package metrics
