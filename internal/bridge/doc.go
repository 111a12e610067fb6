// Package bridge holds the protocol brain of the Insteon bridge: request
// parsing and dispatch, adaptive level tracking for ramped transitions,
// and fan-out of hardware-originated events to every connected client.
//
// The package is transport-agnostic. It talks to connections through the
// Responder and Broadcaster interfaces and to hardware through the hub
// package's Control interface, which keeps every piece testable with hand
// mocks.
package bridge
