package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not resolve.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDuplicateDevice is returned when two configs normalise to the same ID.
	ErrDuplicateDevice = errors.New("device: duplicate id")

	// ErrUnknownType is returned when a config names a device type outside
	// the closed set.
	ErrUnknownType = errors.New("device: unknown type")
)
