package device

import "github.com/nerrad567/insteon-bridge/internal/hub"

// Type is the configured device classification.
type Type string

// Known device types. The three contact-style names are aliases for the
// same sensor hardware and share a Kind.
const (
	TypeSwitch        Type = "switch"
	TypeDimmer        Type = "dimmer"
	TypeLightbulb     Type = "lightbulb"
	TypeLeakSensor    Type = "leaksensor"
	TypeContactSensor Type = "contactsensor"
	TypeWindowSensor  Type = "windowsensor"
	TypeDoorSensor    Type = "doorsensor"
)

// AllTypes returns all valid device type values.
func AllTypes() []Type {
	return []Type{
		TypeSwitch, TypeDimmer, TypeLightbulb, TypeLeakSensor,
		TypeContactSensor, TypeWindowSensor, TypeDoorSensor,
	}
}

// Kind is the closed behavioural variant a device type maps onto. Command
// validity is decided on the Kind, not by string comparison on the Type.
type Kind int

// Device kinds.
const (
	// KindSwitched is a binary on/off lighting device.
	KindSwitched Kind = iota
	// KindDimmable is a lighting device with continuous level and ramp control.
	KindDimmable
	// KindContact is a door/window/contact open-close sensor.
	KindContact
	// KindLeak is a wet/dry leak sensor.
	KindLeak
)

// Kind maps a device type onto its behavioural variant.
func (t Type) Kind() Kind {
	switch t {
	case TypeDimmer, TypeLightbulb:
		return KindDimmable
	case TypeLeakSensor:
		return KindLeak
	case TypeContactSensor, TypeWindowSensor, TypeDoorSensor:
		return KindContact
	default:
		return KindSwitched
	}
}

// Dimmable reports whether the type supports level and ramp-rate control.
func (t Type) Dimmable() bool {
	return t.Kind() == KindDimmable
}

// Category maps the device type onto the hub's notification category.
func (t Type) Category() hub.Category {
	switch t.Kind() {
	case KindContact:
		return hub.CategoryDoor
	case KindLeak:
		return hub.CategoryLeak
	default:
		return hub.CategoryLight
	}
}

// Device is one configured physical unit: bridge-local metadata plus the
// hub capability object for the unit. Devices are constructed once at
// startup and never mutated, so they are safe to share between goroutines.
type Device struct {
	ID      string
	Name    string
	Type    Type
	control hub.Control
}

// Dimmable reports whether level/ramp-rate operations apply to this device.
func (d *Device) Dimmable() bool {
	return d.Type.Dimmable()
}

// Kind returns the device's behavioural variant.
func (d *Device) Kind() Kind {
	return d.Type.Kind()
}

// Control returns the hub capability object for this device.
func (d *Device) Control() hub.Control {
	return d.control
}
