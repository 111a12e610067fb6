package insteon

import (
	"context"
	"fmt"

	"github.com/nerrad567/insteon-bridge/internal/hub"
)

// deviceControl implements hub.Control for one physical unit. All
// operations run as serialized exchanges on the shared client.
//
// Successful state-changing commands also emit a typed event carrying the
// target level, so every observer of the bridge sees command-driven
// changes the same way it sees physical ones.
type deviceControl struct {
	client  *Client
	addr    Address
	addrErr error
}

func (d *deviceControl) Info(ctx context.Context) (hub.Info, error) {
	if d.addrErr != nil {
		return hub.Info{}, d.addrErr
	}

	// Extended register read: D1 is the button group, D2=0x00 requests.
	data, err := d.client.sendExt(ctx, d.addr, cmdExtSetGet, 0x00, [14]byte{0x01, 0x00}, true)
	if err != nil {
		return hub.Info{}, fmt.Errorf("fetch device config: %w", err)
	}
	if len(data) < 8 {
		return hub.Info{}, fmt.Errorf("fetch device config: short response")
	}

	return hub.Info{
		DeviceID: d.addr.String(),
		RampRate: RampByteToMillis(data[6]),
		OnLevel:  ByteToLevel(data[7]),
	}, nil
}

func (d *deviceControl) Level(ctx context.Context) (int, error) {
	if d.addrErr != nil {
		return 0, d.addrErr
	}
	cmd2, err := d.client.sendStd(ctx, d.addr, cmdStatusRequest, 0x00)
	if err != nil {
		return 0, fmt.Errorf("status request: %w", err)
	}
	return ByteToLevel(cmd2), nil
}

func (d *deviceControl) TurnOn(ctx context.Context, level, rate *int) (hub.CommandStatus, error) {
	if d.addrErr != nil {
		return hub.CommandStatus{}, d.addrErr
	}

	target := 100
	if level != nil {
		target = *level
	}

	var err error
	if rate != nil {
		// On-at-ramp packs level and rate into one byte: level high
		// nibble, rate low nibble.
		packed := (LevelToByte(target) & 0xF0) | (RampMillisToByte(*rate) >> 1 & 0x0F)
		_, err = d.client.sendStd(ctx, d.addr, cmdOnAtRamp, packed)
	} else {
		_, err = d.client.sendStd(ctx, d.addr, cmdOn, LevelToByte(target))
	}
	if err != nil {
		return hub.CommandStatus{Success: false, Detail: err.Error()}, err
	}

	d.client.emit(hub.Event{DeviceID: d.addr.String(), Kind: hub.EventTurnOn, Level: &target})
	return hub.CommandStatus{Success: true}, nil
}

func (d *deviceControl) TurnOff(ctx context.Context, rate *int) (hub.CommandStatus, error) {
	if d.addrErr != nil {
		return hub.CommandStatus{}, d.addrErr
	}

	var err error
	if rate != nil {
		packed := RampMillisToByte(*rate) >> 1 & 0x0F
		_, err = d.client.sendStd(ctx, d.addr, cmdOffAtRamp, packed)
	} else {
		_, err = d.client.sendStd(ctx, d.addr, cmdOff, 0x00)
	}
	if err != nil {
		return hub.CommandStatus{Success: false, Detail: err.Error()}, err
	}

	zero := 0
	d.client.emit(hub.Event{DeviceID: d.addr.String(), Kind: hub.EventTurnOff, Level: &zero})
	return hub.CommandStatus{Success: true}, nil
}

func (d *deviceControl) TurnOnFast(ctx context.Context) (hub.CommandStatus, error) {
	if d.addrErr != nil {
		return hub.CommandStatus{}, d.addrErr
	}
	if _, err := d.client.sendStd(ctx, d.addr, cmdOnFast, 0xFF); err != nil {
		return hub.CommandStatus{Success: false, Detail: err.Error()}, err
	}
	full := 100
	d.client.emit(hub.Event{DeviceID: d.addr.String(), Kind: hub.EventTurnOnFast, Level: &full})
	return hub.CommandStatus{Success: true}, nil
}

func (d *deviceControl) TurnOffFast(ctx context.Context) (hub.CommandStatus, error) {
	if d.addrErr != nil {
		return hub.CommandStatus{}, d.addrErr
	}
	if _, err := d.client.sendStd(ctx, d.addr, cmdOffFast, 0x00); err != nil {
		return hub.CommandStatus{Success: false, Detail: err.Error()}, err
	}
	zero := 0
	d.client.emit(hub.Event{DeviceID: d.addr.String(), Kind: hub.EventTurnOffFast, Level: &zero})
	return hub.CommandStatus{Success: true}, nil
}

func (d *deviceControl) SetLevel(ctx context.Context, level int) (hub.CommandStatus, error) {
	if d.addrErr != nil {
		return hub.CommandStatus{}, d.addrErr
	}
	if _, err := d.client.sendStd(ctx, d.addr, cmdInstantChange, LevelToByte(level)); err != nil {
		return hub.CommandStatus{Success: false, Detail: err.Error()}, err
	}
	return hub.CommandStatus{Success: true}, nil
}

func (d *deviceControl) RampRate(ctx context.Context, group int, rate *int) (*int, error) {
	if d.addrErr != nil {
		return nil, d.addrErr
	}

	if rate == nil {
		info, err := d.Info(ctx)
		if err != nil {
			return nil, err
		}
		return &info.RampRate, nil
	}

	b := RampMillisToByte(*rate)
	data := [14]byte{byte(group), regSetRampRate, b}
	if _, err := d.client.sendExt(ctx, d.addr, cmdExtSetGet, 0x00, data, false); err != nil {
		return nil, fmt.Errorf("set ramp rate: %w", err)
	}

	// Report the value the register can actually hold.
	applied := RampByteToMillis(b)
	return &applied, nil
}

func (d *deviceControl) OnLevel(ctx context.Context, group int, level *int) (*int, error) {
	if d.addrErr != nil {
		return nil, d.addrErr
	}

	if level == nil {
		info, err := d.Info(ctx)
		if err != nil {
			return nil, err
		}
		return &info.OnLevel, nil
	}

	b := LevelToByte(*level)
	data := [14]byte{byte(group), regSetOnLevel, b}
	if _, err := d.client.sendExt(ctx, d.addr, cmdExtSetGet, 0x00, data, false); err != nil {
		return nil, fmt.Errorf("set on level: %w", err)
	}

	applied := ByteToLevel(b)
	return &applied, nil
}
