// Package device provides the bridge's device registry.
//
// The registry is the catalogue of configured Insteon units. Each Device
// pairs bridge-local metadata (name, type) with the hub capability object
// for the physical unit. Device types map onto a closed Kind variant
// (switched, dimmable, contact, leak), and command validity is decided on
// the Kind rather than by string checks.
//
// The registry is constructed once at startup from validated configuration
// and is immutable for the life of the process: lookups are pure, O(1),
// and need no locking.
package device
