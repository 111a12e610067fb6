// Package api provides the WebSocket surface of the bridge: the HTTP
// listener, connection lifecycle, liveness sweeps, and message delivery.
//
// A heartbeat sweep runs every configured interval: clients that failed to
// show any sign of life (a pong, a ping, or a data frame) since the last
// round are terminated, the rest are pinged. Outbound delivery is
// fire-and-forget through a buffered per-client channel; a slow consumer
// loses messages rather than stalling the bridge.
package api
