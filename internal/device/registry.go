package device

import (
	"fmt"

	"github.com/nerrad567/insteon-bridge/internal/hub"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
)

// Registry maps canonical device IDs to Device handles.
//
// It is built once at startup from validated configuration and never
// mutated afterwards, so lookups need no locking. Lookup keys are
// normalised the same way configured IDs are (uppercase, separators
// stripped), making resolution case-insensitive.
type Registry struct {
	devices map[string]*Device
	// order preserves the configured device order for Snapshot.
	order   []string
	configs []config.DeviceConfig
}

// NewRegistry builds the registry from device configs, obtaining each
// device's capability object from the controller.
func NewRegistry(configs []config.DeviceConfig, ctrl hub.Controller) (*Registry, error) {
	r := &Registry{
		devices: make(map[string]*Device, len(configs)),
		order:   make([]string, 0, len(configs)),
		configs: make([]config.DeviceConfig, len(configs)),
	}
	copy(r.configs, configs)

	for _, dc := range configs {
		id := config.NormalizeDeviceID(dc.DeviceID)
		if _, exists := r.devices[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, id)
		}

		t := Type(dc.DeviceType)
		if !validType(t) {
			return nil, fmt.Errorf("%w: %q for device %s", ErrUnknownType, dc.DeviceType, id)
		}
		r.devices[id] = &Device{
			ID:      id,
			Name:    dc.Name,
			Type:    t,
			control: ctrl.Control(id, t.Category()),
		}
		r.order = append(r.order, id)
	}

	return r, nil
}

func validType(t Type) bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Lookup resolves a device ID (any case, with or without separators).
// Returns ErrDeviceNotFound if the ID is not configured.
func (r *Registry) Lookup(deviceID string) (*Device, error) {
	dev, ok := r.devices[config.NormalizeDeviceID(deviceID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return dev, nil
}

// All returns every registered device in configured order.
func (r *Registry) All() []*Device {
	devices := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, r.devices[id])
	}
	return devices
}

// Snapshot returns the configured device set exactly as it was supplied,
// for the listDevices response.
func (r *Registry) Snapshot() []config.DeviceConfig {
	snapshot := make([]config.DeviceConfig, len(r.configs))
	copy(snapshot, r.configs)
	return snapshot
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	return len(r.devices)
}
