package device

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/insteon-bridge/internal/hub"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
)

// stubController hands out no-op controls and records registrations.
type stubController struct {
	registered map[string]hub.Category
}

func newStubController() *stubController {
	return &stubController{registered: make(map[string]hub.Category)}
}

func (s *stubController) Connect(context.Context) error { return nil }
func (s *stubController) Connected() bool               { return true }
func (s *stubController) Events() <-chan hub.Event      { return nil }
func (s *stubController) Close() error                  { return nil }

func (s *stubController) Control(deviceID string, cat hub.Category) hub.Control {
	s.registered[deviceID] = cat
	return nil
}

func testConfigs() []config.DeviceConfig {
	return []config.DeviceConfig{
		{DeviceID: "AB12CD", Name: "Lamp", DeviceType: "dimmer"},
		{DeviceID: "AB34EF", Name: "Porch", DeviceType: "switch"},
		{DeviceID: "CD5601", Name: "Front Door", DeviceType: "doorsensor"},
		{DeviceID: "CD7802", Name: "Basement", DeviceType: "leaksensor"},
	}
}

func TestLookupNormalizesIDs(t *testing.T) {
	reg, err := NewRegistry(testConfigs(), newStubController())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	for _, id := range []string{"AB12CD", "ab12cd", "ab.12.cd", "AB:12:CD"} {
		dev, err := reg.Lookup(id)
		if err != nil {
			t.Errorf("Lookup(%q): %v", id, err)
			continue
		}
		if dev.Name != "Lamp" {
			t.Errorf("Lookup(%q) resolved %q, want Lamp", id, dev.Name)
		}
	}
}

func TestLookupUnknownDevice(t *testing.T) {
	reg, err := NewRegistry(testConfigs(), newStubController())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	_, err = reg.Lookup("FFFFFF")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup unknown = %v, want ErrDeviceNotFound", err)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	configs := []config.DeviceConfig{
		{DeviceID: "AB12CD", Name: "Lamp", DeviceType: "dimmer"},
		{DeviceID: "ab.12.cd", Name: "Same Lamp", DeviceType: "switch"},
	}
	_, err := NewRegistry(configs, newStubController())
	if !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("NewRegistry = %v, want ErrDuplicateDevice", err)
	}
}

func TestNewRegistryRejectsUnknownType(t *testing.T) {
	configs := []config.DeviceConfig{
		{DeviceID: "AB12CD", Name: "Lamp", DeviceType: "thermostat"},
	}
	_, err := NewRegistry(configs, newStubController())
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("NewRegistry = %v, want ErrUnknownType", err)
	}
}

func TestAllPreservesConfiguredOrder(t *testing.T) {
	reg, err := NewRegistry(testConfigs(), newStubController())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	all := reg.All()
	if len(all) != 4 {
		t.Fatalf("All returned %d devices, want 4", len(all))
	}
	wantOrder := []string{"AB12CD", "AB34EF", "CD5601", "CD7802"}
	for i, dev := range all {
		if dev.ID != wantOrder[i] {
			t.Errorf("All()[%d] = %s, want %s", i, dev.ID, wantOrder[i])
		}
	}
}

func TestControllerRegistrationCategories(t *testing.T) {
	ctrl := newStubController()
	if _, err := NewRegistry(testConfigs(), ctrl); err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	want := map[string]hub.Category{
		"AB12CD": hub.CategoryLight,
		"AB34EF": hub.CategoryLight,
		"CD5601": hub.CategoryDoor,
		"CD7802": hub.CategoryLeak,
	}
	for id, cat := range want {
		if got := ctrl.registered[id]; got != cat {
			t.Errorf("device %s registered as category %v, want %v", id, got, cat)
		}
	}
}

func TestSnapshotPreservesConfiguredForm(t *testing.T) {
	configs := []config.DeviceConfig{
		{DeviceID: "AB12CD", Name: "Lamp", DeviceType: "dimmer"},
	}
	reg, err := NewRegistry(configs, newStubController())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	snap := reg.Snapshot()
	if len(snap) != 1 || snap[0] != configs[0] {
		t.Errorf("Snapshot = %+v, want the configured entries", snap)
	}

	// Mutating the snapshot must not touch the registry.
	snap[0].Name = "changed"
	if reg.Snapshot()[0].Name != "Lamp" {
		t.Error("Snapshot returned a shared slice")
	}
}

func TestTypeKinds(t *testing.T) {
	tests := []struct {
		typ      Type
		kind     Kind
		dimmable bool
	}{
		{TypeSwitch, KindSwitched, false},
		{TypeDimmer, KindDimmable, true},
		{TypeLightbulb, KindDimmable, true},
		{TypeLeakSensor, KindLeak, false},
		{TypeContactSensor, KindContact, false},
		{TypeWindowSensor, KindContact, false},
		{TypeDoorSensor, KindContact, false},
	}
	for _, tt := range tests {
		if got := tt.typ.Kind(); got != tt.kind {
			t.Errorf("%s.Kind() = %v, want %v", tt.typ, got, tt.kind)
		}
		if got := tt.typ.Dimmable(); got != tt.dimmable {
			t.Errorf("%s.Dimmable() = %v, want %v", tt.typ, got, tt.dimmable)
		}
	}
}
