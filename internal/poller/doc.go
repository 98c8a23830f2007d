// Package poller implements the degraded-mode refresher.
//
// The refresher:
//   - Re-fetches every cached partition on an interval while realtime is down
//   - Stays idle while the realtime channel is connected
//   - Forces one full refresh on each (re)connect, since events sent during
//     the outage are not replayed
//   - Bounds concurrent requests
package poller
