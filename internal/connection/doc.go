// Package connection implements the realtime Connection Manager.
//
// The Connection Manager:
//   - Owns a single authenticated WebSocket channel per process
//   - Reads the stored credential and skips connecting when it is absent or malformed
//   - Replays the Listener Registry onto every new transport
//   - Reconnects with capped exponential backoff, up to a maximum attempt count
//   - Purges the credential and stops on authentication errors
//   - Drops (and counts) emits while not connected
package connection
