package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/insteon-bridge/internal/device"
)

// Outbound message types. Direct replies echo the request method instead.
const (
	TypeEvent        = "event"
	TypeBridgeStatus = "bridgestatus"
	TypeError        = "error"
	TypeDeviceInfo   = "deviceInfo"
)

// Request methods.
const (
	MethodListDevices     = "listDevices"
	MethodDeviceInfo      = "deviceInfo"
	MethodDeviceLevel     = "deviceLevel"
	MethodDeviceOn        = "deviceOn"
	MethodDeviceOff       = "deviceOff"
	MethodDeviceFastOn    = "deviceFastOn"
	MethodDeviceFastOff   = "deviceFastOff"
	MethodDeviceSetRamp   = "deviceSetRampRate"
	MethodDeviceSetOnLvl  = "deviceSetOnLevel"
	MethodDeviceSetLevel  = "deviceSetLevel"
	legacyGetDevicesAlias = "getDevices"
)

// deviceMethods is the set of request methods that target a single device.
// Anything else (bar listDevices) is an unknown method, regardless of what
// the params carry.
var deviceMethods = map[string]bool{
	MethodDeviceInfo:     true,
	MethodDeviceLevel:    true,
	MethodDeviceOn:       true,
	MethodDeviceOff:      true,
	MethodDeviceFastOn:   true,
	MethodDeviceFastOff:  true,
	MethodDeviceSetRamp:  true,
	MethodDeviceSetOnLvl: true,
	MethodDeviceSetLevel: true,
}

// Envelope is the outbound message wrapper sent to clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Request is an inbound client message.
type Request struct {
	Method string `json:"method"`
	Params Params `json:"params"`
}

// Params carries the optional request parameters. Level is a percentage
// (0-100); Rate is a ramp duration in milliseconds.
type Params struct {
	DeviceID string `json:"deviceID,omitempty"`
	Level    *int   `json:"level,omitempty"`
	Rate     *int   `json:"rate,omitempty"`
}

// EventData is the payload of an "event" message: a device state sample.
// State is a level percentage for lighting devices or a string
// ("open"/"closed"/"wet"/"dry") for sensors.
type EventData struct {
	Name       string      `json:"name"`
	DeviceID   string      `json:"deviceID"`
	DeviceType device.Type `json:"deviceType"`
	State      any         `json:"state"`
}

// ErrorData is the payload of an "error" message.
type ErrorData struct {
	Message string `json:"message"`
}

// ParseRequest decodes an inbound text frame.
//
// The legacy bare string "getDevices" (sent by older drivers, not valid
// JSON) is accepted as shorthand for {"method": "listDevices"}.
func ParseRequest(raw []byte) (Request, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte(legacyGetDevicesAlias)) {
		return Request{Method: MethodListDevices}, nil
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: missing method", ErrMalformedRequest)
	}
	return req, nil
}
