// Package connection implements the feed Connection Manager.
//
// The Connection Manager:
//   - Owns exactly one WebSocket session to the real-time feed
//   - Multiplexes any number of channel subscriptions over it
//   - Reconnects with linear backoff, capped at 5x the base delay
//   - Restores subscriptions in registration order before delivering data
//   - Delivers each channel's messages to its handler in arrival order
//   - Publishes a single fatal error once reconnect attempts are exhausted
package connection
