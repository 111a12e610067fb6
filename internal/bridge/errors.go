package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrMalformedRequest is returned when an inbound frame cannot be
	// decoded into a Request.
	ErrMalformedRequest = errors.New("bridge: malformed request")

	// ErrTrackerUnbounded is returned when a level-tracking session is
	// constructed with neither an expected level nor a timeout. Such a
	// session would poll forever; requesting one is a programming error.
	ErrTrackerUnbounded = errors.New("bridge: tracking session needs an expected level or a timeout")
)
