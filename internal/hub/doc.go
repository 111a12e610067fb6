// Package hub defines the boundary to the Insteon hub collaborator.
//
// The rest of the bridge never touches the wire protocol: it sees a
// Controller that hands out per-device Control capability objects and emits
// typed hardware Events over a channel. The concrete implementation lives
// in internal/insteon; tests substitute mocks.
//
// The package also provides the connectivity Monitor, which owns the
// connect/reconnect loop and the process-wide connected flag reported to
// clients in "bridgestatus" messages.
package hub
