package hub

import "context"

// Category tells the controller what class of physical unit a device ID
// refers to, so hardware notifications can be decoded appropriately.
// It mirrors the capability split in the hub firmware: lighting devices
// answer level queries, sensors only announce state transitions.
type Category int

// Device categories.
const (
	CategoryLight Category = iota
	CategoryDoor
	CategoryLeak
)

// CommandStatus reports the outcome of a device command as seen by the hub.
type CommandStatus struct {
	Success bool
	// Detail carries hub-level diagnostics for failed commands (NAK reason,
	// timeout). Empty on success.
	Detail string
}

// Info is the device configuration snapshot held by the physical unit.
// RampRate is in milliseconds; OnLevel is a percentage (0-100).
type Info struct {
	DeviceID string `json:"deviceID"`
	RampRate int    `json:"rampRate"`
	OnLevel  int    `json:"onLevel"`
}

// Control is the per-device capability object exposed by the hub.
//
// All calls block until the hub answers (or ctx expires) and are safe for
// concurrent use. Level values are percentages (0-100); rates are
// milliseconds of ramp duration.
type Control interface {
	// Info fetches the unit's stored configuration (ramp rate, on level).
	Info(ctx context.Context) (Info, error)

	// Level reads the unit's current light level.
	Level(ctx context.Context) (int, error)

	// TurnOn starts a ramped turn-on. level and rate are optional; when nil
	// the unit applies its stored on-level and ramp rate.
	TurnOn(ctx context.Context, level, rate *int) (CommandStatus, error)

	// TurnOff starts a ramped turn-off. rate is optional.
	TurnOff(ctx context.Context, rate *int) (CommandStatus, error)

	// TurnOnFast switches on immediately, skipping the ramp.
	TurnOnFast(ctx context.Context) (CommandStatus, error)

	// TurnOffFast switches off immediately, skipping the ramp.
	TurnOffFast(ctx context.Context) (CommandStatus, error)

	// SetLevel drives the unit straight to the given level.
	SetLevel(ctx context.Context, level int) (CommandStatus, error)

	// RampRate reads (rate == nil) or writes the stored ramp rate for a
	// button group. Returns the updated value, or nil when the unit did not
	// echo one back.
	RampRate(ctx context.Context, group int, rate *int) (*int, error)

	// OnLevel reads (level == nil) or writes the stored on-level for a
	// button group. Returns the updated value, or nil when the unit did not
	// echo one back.
	OnLevel(ctx context.Context, group int, level *int) (*int, error)
}

// EventKind identifies a hardware-originated state change announced by a
// device on the Insteon network.
type EventKind int

// Hardware event kinds.
const (
	EventTurnOn EventKind = iota
	EventTurnOnFast
	EventTurnOff
	EventTurnOffFast
	EventBrightened
	EventOpened
	EventClosed
	EventWet
	EventDry
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventTurnOn:
		return "turnOn"
	case EventTurnOnFast:
		return "turnOnFast"
	case EventTurnOff:
		return "turnOff"
	case EventTurnOffFast:
		return "turnOffFast"
	case EventBrightened:
		return "brightened"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventWet:
		return "wet"
	case EventDry:
		return "dry"
	default:
		return "unknown"
	}
}

// Event is a typed hardware-change notification.
//
// Level is set for lighting events caused by bridge-issued commands, where
// the hub knows the target level. Physical button presses arrive without
// one; consumers must read the device's current level themselves.
type Event struct {
	DeviceID string
	Kind     EventKind
	Level    *int
}

// Controller is the hub collaborator: it speaks the physical device
// protocol and exposes per-device capability objects plus a stream of
// hardware-originated events.
type Controller interface {
	// Connect establishes the hub link. It blocks until the transport
	// handshake completes or ctx is cancelled.
	Connect(ctx context.Context) error

	// Control returns the capability object for a device. The category
	// determines how the controller decodes that unit's notifications.
	Control(deviceID string, cat Category) Control

	// Events returns the stream of hardware-originated notifications.
	// The channel is closed when the controller shuts down.
	Events() <-chan Event

	// Connected reports whether the hub link is currently up.
	Connected() bool

	// Close tears down the hub link and closes the event stream.
	Close() error
}
