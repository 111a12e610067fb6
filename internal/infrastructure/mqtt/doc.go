// Package mqtt provides the optional broker mirror: device events and the
// bridge's online/offline state republished for consumers that do not
// hold a WebSocket connection.
//
// The mirror is strictly one-way and best-effort. The bridge accepts no
// commands over MQTT, and broker trouble never blocks or fails the
// WebSocket path.
package mqtt
