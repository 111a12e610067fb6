package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/insteon-bridge/internal/device"
	"github.com/nerrad567/insteon-bridge/internal/hub"
)

// Responder delivers a message to a single client connection.
// Satisfied by the api package's client.
type Responder interface {
	Send(msgType string, data any)
}

// Logger is the logging interface used by the bridge package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Dispatcher parses inbound client requests, validates the target device,
// invokes the matching device operation, and shapes the response.
//
// All responses are unicast to the requesting connection only. Events seen
// by other clients come from the event fan-out reacting to the same
// hardware state change, never from the dispatcher.
//
// Thread Safety: Handle may be called concurrently for different messages;
// the dispatcher holds no mutable state of its own.
type Dispatcher struct {
	registry *device.Registry
	logger   Logger
}

// NewDispatcher creates a command dispatcher over the given registry.
func NewDispatcher(registry *device.Registry, logger Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// Handle processes one inbound client frame.
//
// Nothing a client sends can take down the connection or the process: a
// malformed frame, unknown method, or unknown device ID each produce a
// single "error" response and nothing else. ctx should be the process
// lifetime context, since tracking sessions started by a command outlive
// the request itself.
func (d *Dispatcher) Handle(ctx context.Context, conn Responder, raw []byte) {
	req, err := ParseRequest(raw)
	if err != nil {
		d.logger.Warn("rejecting malformed request", "error", err)
		conn.Send(TypeError, ErrorData{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if req.Method == MethodListDevices {
		conn.Send(MethodListDevices, d.registry.Snapshot())
		return
	}

	if !deviceMethods[req.Method] {
		conn.Send(TypeError, ErrorData{Message: fmt.Sprintf("Unknown method=[%s]", req.Method)})
		return
	}

	// Every remaining method targets a device.
	dev, err := d.registry.Lookup(req.Params.DeviceID)
	if err != nil {
		conn.Send(TypeError, ErrorData{
			Message: fmt.Sprintf("Unknown device ID %s in call %s", req.Params.DeviceID, req.Method),
		})
		return
	}

	switch req.Method {
	case MethodDeviceInfo:
		d.deviceInfo(ctx, conn, dev)
	case MethodDeviceLevel:
		d.deviceLevel(ctx, conn, dev)
	case MethodDeviceOn:
		d.deviceOn(ctx, conn, dev, req.Params)
	case MethodDeviceOff:
		d.deviceOff(ctx, conn, dev, req.Params)
	case MethodDeviceFastOn:
		d.deviceFastOn(ctx, conn, dev)
	case MethodDeviceFastOff:
		d.deviceFastOff(ctx, conn, dev)
	case MethodDeviceSetRamp:
		d.deviceSetRampRate(ctx, conn, dev, req.Params)
	case MethodDeviceSetOnLvl:
		d.deviceSetOnLevel(ctx, conn, dev, req.Params)
	case MethodDeviceSetLevel:
		d.deviceSetLevel(ctx, conn, dev, req.Params)
	}
}

// deviceInfo responds with the unit's stored configuration. Ramp fields
// only exist on dimmable hardware; they are stripped for everything else.
func (d *Dispatcher) deviceInfo(ctx context.Context, conn Responder, dev *device.Device) {
	info, err := dev.Control().Info(ctx)
	if err != nil {
		d.commandFailed(conn, dev, "fetch info for", err)
		return
	}

	data := map[string]any{"deviceID": dev.ID}
	if dev.Dimmable() {
		data["rampRate"] = info.RampRate
		data["onLevel"] = info.OnLevel
	}
	conn.Send(MethodDeviceInfo, data)
}

func (d *Dispatcher) deviceLevel(ctx context.Context, conn Responder, dev *device.Device) {
	level, err := dev.Control().Level(ctx)
	if err != nil {
		d.commandFailed(conn, dev, "read level of", err)
		return
	}
	d.sendLevelEvent(conn, dev, level)
}

// deviceOn starts a ramped turn-on. For dimmable devices the ramp can run
// for seconds or minutes, so an immediate level read only reports how far
// the light has got; the dispatcher emits that first sample right away and
// then tracks the level until it reaches the expected value or the ramp
// (plus margin) has elapsed.
func (d *Dispatcher) deviceOn(ctx context.Context, conn Responder, dev *device.Device, params Params) {
	status, err := dev.Control().TurnOn(ctx, params.Level, params.Rate)
	if err != nil || !status.Success {
		d.commandFailed(conn, dev, "turn on", commandErr(status, err))
		return
	}

	if !dev.Dimmable() {
		d.sendLevelEvent(conn, dev, 100)
		return
	}

	// First sample right away.
	if level, readErr := dev.Control().Level(ctx); readErr != nil {
		d.logger.Warn("initial level read failed", "device", dev.Name, "error", readErr)
	} else {
		d.sendLevelEvent(conn, dev, level)
	}

	rampTime, expected, ok := d.rampTarget(ctx, dev, params)
	if !ok {
		return
	}
	d.startTracking(ctx, conn, dev, expected, rampTime)
}

func (d *Dispatcher) deviceOff(ctx context.Context, conn Responder, dev *device.Device, params Params) {
	status, err := dev.Control().TurnOff(ctx, params.Rate)
	if err != nil || !status.Success {
		d.commandFailed(conn, dev, "turn off", commandErr(status, err))
		return
	}

	if !dev.Dimmable() {
		d.sendLevelEvent(conn, dev, 0)
		return
	}

	zero := 0
	params.Level = &zero
	rampTime, _, ok := d.rampTarget(ctx, dev, params)
	if !ok {
		return
	}
	d.startTracking(ctx, conn, dev, &zero, rampTime)
}

func (d *Dispatcher) deviceFastOn(ctx context.Context, conn Responder, dev *device.Device) {
	status, err := dev.Control().TurnOnFast(ctx)
	if err != nil || !status.Success {
		d.commandFailed(conn, dev, "turn on (fast) ", commandErr(status, err))
		return
	}
	level, err := dev.Control().Level(ctx)
	if err != nil {
		d.commandFailed(conn, dev, "read level of", err)
		return
	}
	d.sendLevelEvent(conn, dev, level)
}

func (d *Dispatcher) deviceFastOff(ctx context.Context, conn Responder, dev *device.Device) {
	status, err := dev.Control().TurnOffFast(ctx)
	if err != nil || !status.Success {
		d.commandFailed(conn, dev, "turn off (fast) ", commandErr(status, err))
		return
	}
	d.sendLevelEvent(conn, dev, 0)
}

// deviceSetRampRate stores a new default ramp rate on the unit. Only valid
// for non-dimmable devices: the hub firmware exposes this register through
// the switch command set, and dimmers manage it themselves.
func (d *Dispatcher) deviceSetRampRate(ctx context.Context, conn Responder, dev *device.Device, params Params) {
	if dev.Dimmable() {
		conn.Send(TypeError, ErrorData{Message: "Cannot set rampRate on dimmable device"})
		return
	}
	if params.Rate == nil {
		conn.Send(TypeError, ErrorData{Message: "deviceSetRampRate requires a rate parameter"})
		return
	}

	updated, err := dev.Control().RampRate(ctx, 1, params.Rate)
	if err != nil {
		d.commandFailed(conn, dev, "set rampRate on", err)
		return
	}
	if updated == nil {
		d.deviceInfo(ctx, conn, dev)
		return
	}
	conn.Send(TypeDeviceInfo, map[string]any{"deviceID": dev.ID, "rampRate": *updated})
}

func (d *Dispatcher) deviceSetOnLevel(ctx context.Context, conn Responder, dev *device.Device, params Params) {
	if dev.Dimmable() {
		conn.Send(TypeError, ErrorData{Message: "Cannot set onLevel on dimmable device"})
		return
	}
	if params.Level == nil {
		conn.Send(TypeError, ErrorData{Message: "deviceSetOnLevel requires a level parameter"})
		return
	}

	updated, err := dev.Control().OnLevel(ctx, 1, params.Level)
	if err != nil {
		d.commandFailed(conn, dev, "set onLevel on", err)
		return
	}
	if updated == nil {
		d.deviceInfo(ctx, conn, dev)
		return
	}
	conn.Send(TypeDeviceInfo, map[string]any{"deviceID": dev.ID, "onLevel": *updated})
}

func (d *Dispatcher) deviceSetLevel(ctx context.Context, conn Responder, dev *device.Device, params Params) {
	if dev.Dimmable() {
		conn.Send(TypeError, ErrorData{Message: "Cannot set level on dimmable device"})
		return
	}
	if params.Level == nil {
		conn.Send(TypeError, ErrorData{Message: "deviceSetLevel requires a level parameter"})
		return
	}

	status, err := dev.Control().SetLevel(ctx, *params.Level)
	if err != nil || !status.Success {
		d.commandFailed(conn, dev, fmt.Sprintf("set level=%d on", *params.Level), commandErr(status, err))
		return
	}
	level, err := dev.Control().Level(ctx)
	if err != nil {
		d.commandFailed(conn, dev, "read level of", err)
		return
	}
	d.sendLevelEvent(conn, dev, level)
}

// rampTarget derives the ramp duration and expected level for a tracked
// transition: explicit params win, otherwise the unit's stored values are
// fetched. Returns ok=false when the info fetch fails (already logged);
// the command itself has succeeded, there is just nothing to track.
func (d *Dispatcher) rampTarget(ctx context.Context, dev *device.Device, params Params) (time.Duration, *int, bool) {
	rate := params.Rate
	expected := params.Level

	if rate == nil || expected == nil {
		info, err := dev.Control().Info(ctx)
		if err != nil {
			d.logger.Warn("info fetch failed, skipping level tracking", "device", dev.Name, "error", err)
			return 0, nil, false
		}
		if rate == nil {
			rate = &info.RampRate
		}
		if expected == nil {
			expected = &info.OnLevel
		}
	}

	return time.Duration(*rate) * time.Millisecond, expected, true
}

// startTracking spins up a level-tracking session addressed to the
// requesting connection.
func (d *Dispatcher) startTracking(ctx context.Context, conn Responder, dev *device.Device, expected *int, ramp time.Duration) {
	session, err := NewSession(dev, conn, d.logger, expected, PollInterval(ramp), TrackTimeout(ramp))
	if err != nil {
		// Unreachable with a non-nil expected level; guard anyway.
		d.logger.Error("level tracking session rejected", "device", dev.Name, "error", err)
		return
	}
	go session.Run(ctx)
}

func (d *Dispatcher) sendLevelEvent(conn Responder, dev *device.Device, state any) {
	conn.Send(TypeEvent, EventData{
		Name:       dev.Name,
		DeviceID:   dev.ID,
		DeviceType: dev.Type,
		State:      state,
	})
}

// commandFailed logs a device-operation failure and reports it to the
// requesting client. The connection stays open.
func (d *Dispatcher) commandFailed(conn Responder, dev *device.Device, action string, err error) {
	d.logger.Error("device command failed", "action", action, "device", dev.Name, "error", err)
	conn.Send(TypeError, ErrorData{
		Message: fmt.Sprintf("ERROR: failed to %s device=[%s]", action, dev.Name),
	})
}

// commandErr folds a CommandStatus and transport error into one error value.
func commandErr(status hub.CommandStatus, err error) error {
	if err != nil {
		return err
	}
	if status.Detail != "" {
		return fmt.Errorf("hub reported failure: %s", status.Detail)
	}
	return fmt.Errorf("hub reported failure")
}
