package bridge

import (
	"context"

	"github.com/nerrad567/insteon-bridge/internal/device"
	"github.com/nerrad567/insteon-bridge/internal/hub"
)

// Broadcaster delivers a message to every connected client. Satisfied by
// the api package's hub.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

// Mirror republishes device events to an external channel (MQTT). A nil
// Mirror disables mirroring.
type Mirror interface {
	PublishEvent(deviceID string, payload any)
}

// Fanout consumes hardware-originated notifications from the hub
// controller and broadcasts the resulting state events to every connected
// client, so a physical button press looks the same on the wire as a
// bridge-issued command.
type Fanout struct {
	registry *device.Registry
	events   <-chan hub.Event
	sink     Broadcaster
	mirror   Mirror
	logger   Logger
}

// NewFanout creates the event fan-out. mirror may be nil.
func NewFanout(registry *device.Registry, events <-chan hub.Event, sink Broadcaster, mirror Mirror, logger Logger) *Fanout {
	return &Fanout{
		registry: registry,
		events:   events,
		sink:     sink,
		mirror:   mirror,
		logger:   logger,
	}
}

// Run consumes the event stream until it is closed or ctx is cancelled.
// It blocks; callers start it in its own goroutine.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.events:
			if !ok {
				return
			}
			f.handle(ctx, ev)
		}
	}
}

func (f *Fanout) handle(ctx context.Context, ev hub.Event) {
	dev, err := f.registry.Lookup(ev.DeviceID)
	if err != nil {
		// Unconfigured devices on the Insteon network are normal; their
		// chatter is dropped.
		f.logger.Debug("event from unregistered device", "deviceID", ev.DeviceID, "kind", ev.Kind)
		return
	}

	f.logger.Info("hardware event", "device", dev.Name, "kind", ev.Kind)

	switch dev.Kind() {
	case device.KindContact:
		switch ev.Kind {
		case hub.EventOpened:
			f.emit(dev, "open")
		case hub.EventClosed:
			f.emit(dev, "closed")
		}
	case device.KindLeak:
		switch ev.Kind {
		case hub.EventWet:
			f.emit(dev, "wet")
		case hub.EventDry:
			f.emit(dev, "dry")
		}
	case device.KindSwitched:
		switch ev.Kind {
		case hub.EventTurnOn, hub.EventTurnOnFast:
			f.emit(dev, 100)
		case hub.EventTurnOff, hub.EventTurnOffFast:
			f.emit(dev, 0)
		}
	case device.KindDimmable:
		f.dimmableEvent(ctx, dev, ev)
	}
}

// dimmableEvent resolves the level to report for a dimmer notification.
// Command-acked events carry the target level; physical presses do not,
// and off transitions are always level 0, so only an on/brighten press
// without a level needs a status read.
func (f *Fanout) dimmableEvent(ctx context.Context, dev *device.Device, ev hub.Event) {
	switch ev.Kind {
	case hub.EventTurnOff, hub.EventTurnOffFast:
		f.emit(dev, 0)
		return
	case hub.EventTurnOn, hub.EventTurnOnFast, hub.EventBrightened:
	default:
		return
	}

	if ev.Level != nil {
		f.emit(dev, *ev.Level)
		return
	}

	level, err := dev.Control().Level(ctx)
	if err != nil {
		f.logger.Warn("level read after hardware event failed", "device", dev.Name, "error", err)
		return
	}
	f.emit(dev, level)
}

func (f *Fanout) emit(dev *device.Device, state any) {
	data := EventData{
		Name:       dev.Name,
		DeviceID:   dev.ID,
		DeviceType: dev.Type,
		State:      state,
	}
	f.sink.Broadcast(TypeEvent, data)
	if f.mirror != nil {
		f.mirror.PublishEvent(dev.ID, data)
	}
}
