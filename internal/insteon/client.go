package insteon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/insteon-bridge/internal/hub"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/logging"
)

// commandTimeout bounds how long a command waits for the device's direct
// acknowledgement. Insteon retries take up to about 2 seconds per hop.
const commandTimeout = 8 * time.Second

// eventBufferSize is the hardware-event channel depth. Events beyond it
// are dropped rather than blocking the modem read loop.
const eventBufferSize = 64

// frame is one parsed modem-originated message.
type frame struct {
	cmd     byte
	payload []byte
}

// Client speaks the PLM protocol over a Transport and implements the
// hub.Controller contract: per-device capability objects plus a stream of
// hardware-originated events.
//
// One command is in flight at a time; concurrent callers serialize on an
// internal mutex, mirroring the single shared RF/powerline medium.
type Client struct {
	transport Transport
	logger    *logging.Logger

	events     chan hub.Event
	categories map[string]hub.Category
	catMu      sync.RWMutex

	connected atomic.Bool

	// cmdMu serializes command exchanges; pending receives the frames the
	// read loop attributes to the in-flight command.
	cmdMu   sync.Mutex
	pending chan frame
	pendMu  sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a hub client for the configured hub model.
func NewClient(cfg config.HubConfig, logger *logging.Logger) (*Client, error) {
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		transport:  transport,
		logger:     logger,
		events:     make(chan hub.Event, eventBufferSize),
		categories: make(map[string]hub.Category),
	}, nil
}

// Connect opens the transport and starts the modem read loop. Call again
// after link loss to reconnect.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Open(ctx); err != nil {
		return err
	}

	c.done = make(chan struct{})
	c.connected.Store(true)
	go c.readLoop(c.done)
	return nil
}

// Connected reports whether the modem link is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Control returns the capability object for a device and records its
// category for notification decoding. Invalid device IDs yield a control
// whose every operation fails; configuration validation rejects them
// before this matters.
func (c *Client) Control(deviceID string, cat hub.Category) hub.Control {
	c.catMu.Lock()
	c.categories[deviceID] = cat
	c.catMu.Unlock()

	addr, err := ParseAddress(deviceID)
	return &deviceControl{client: c, addr: addr, addrErr: err}
}

// Events returns the hardware-event stream. Closed by Close.
func (c *Client) Events() <-chan hub.Event {
	return c.events
}

// Close tears down the link and closes the event stream.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		if c.done != nil {
			select {
			case <-c.done:
			default:
				close(c.done)
			}
		}
		err = c.transport.Close()
		close(c.events)
	})
	return err
}

// readLoop consumes the modem byte stream, reassembles frames, and routes
// them: device broadcasts become events, everything else is handed to the
// in-flight command. Exits on transport failure, dropping the connected
// flag so the monitor notices.
func (c *Client) readLoop(done chan struct{}) {
	var buf []byte
	chunk := make([]byte, 256)

	for {
		n, err := c.transport.Read(chunk)
		if err != nil {
			select {
			case <-done:
			default:
				c.logger.Warn("modem read failed", "error", err)
			}
			c.connected.Store(false)
			return
		}
		buf = append(buf, chunk[:n]...)

		for {
			f, rest, ok := nextFrame(buf)
			if !ok {
				buf = rest
				break
			}
			buf = rest
			c.route(f)
		}
	}
}

// nextFrame extracts one complete frame from buf. ok=false means more
// bytes are needed; rest always holds the unconsumed tail.
func nextFrame(buf []byte) (frame, []byte, bool) {
	// Discard noise up to the next frame start.
	for len(buf) > 0 && buf[0] != frameStart {
		buf = buf[1:]
	}
	if len(buf) < 2 {
		return frame{}, buf, false
	}

	var bodyLen int
	switch buf[1] {
	case evtStdMessage:
		bodyLen = stdMessageLen
	case evtExtMessage:
		bodyLen = extMessageLen
	case cmdSendMessage:
		// Echo of our own send: length depends on the flags byte.
		if len(buf) < 6 {
			return frame{}, buf, false
		}
		bodyLen = sendEchoLen
		if buf[5]&0x10 != 0 { // extended message bit
			bodyLen = sendEchoLen + 14
		}
	default:
		// Unknown frame type; resync past the start byte.
		return frame{}, buf[1:], false
	}

	total := 2 + bodyLen
	if len(buf) < total {
		return frame{}, buf, false
	}
	f := frame{cmd: buf[1], payload: append([]byte(nil), buf[2:total]...)}
	return f, buf[total:], true
}

// route classifies a frame. Group broadcasts are hardware activity;
// direct messages and send echoes belong to the in-flight command.
func (c *Client) route(f frame) {
	if f.cmd == evtStdMessage && isGroupBroadcast(f.payload) {
		c.emitHardwareEvent(f.payload)
		return
	}

	c.pendMu.Lock()
	pending := c.pending
	c.pendMu.Unlock()
	if pending == nil {
		return
	}
	select {
	case pending <- f:
	default:
	}
}

// isGroupBroadcast reports whether a standard message is an ALL-Link
// broadcast (physical device activity). Cleanup repeats of the same
// broadcast are excluded to avoid double events.
func isGroupBroadcast(payload []byte) bool {
	if len(payload) < stdMessageLen {
		return false
	}
	return payload[6]&flagBroadcastMask == flagAllLinkBcast
}

// emitHardwareEvent decodes an ALL-Link broadcast into a typed event
// according to the sender's registered category. Events for devices of
// unknown category are dropped.
//
// The broadcast target encodes the scene group in its low byte.
func (c *Client) emitHardwareEvent(payload []byte) {
	var from Address
	copy(from[:], payload[0:3])
	group := int(payload[5])
	cmd1 := payload[7]

	c.catMu.RLock()
	cat, known := c.categories[from.String()]
	c.catMu.RUnlock()
	if !known {
		c.logger.Debug("broadcast from unknown device", "address", from.String(), "cmd", cmd1)
		return
	}

	kind, ok := decodeEvent(cat, cmd1, group)
	if !ok {
		return
	}
	c.emit(hub.Event{DeviceID: from.String(), Kind: kind})
}

// decodeEvent maps a broadcast command onto an event kind for a device
// category. Leak sensors signal state by group: group 1 is the dry
// heartbeat side, group 2 is wet.
func decodeEvent(cat hub.Category, cmd1 byte, group int) (hub.EventKind, bool) {
	switch cat {
	case hub.CategoryDoor:
		switch cmd1 {
		case cmdOn:
			return hub.EventOpened, true
		case cmdOff:
			return hub.EventClosed, true
		}
	case hub.CategoryLeak:
		if cmd1 == cmdOn {
			switch group {
			case 1:
				return hub.EventDry, true
			case 2:
				return hub.EventWet, true
			}
		}
	case hub.CategoryLight:
		switch cmd1 {
		case cmdOn:
			return hub.EventTurnOn, true
		case cmdOnFast:
			return hub.EventTurnOnFast, true
		case cmdOff:
			return hub.EventTurnOff, true
		case cmdOffFast:
			return hub.EventTurnOffFast, true
		case cmdBrighten:
			return hub.EventBrightened, true
		}
	}
	return 0, false
}

// emit delivers an event without blocking the read loop. A full buffer
// drops the event.
func (c *Client) emit(ev hub.Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping event", "deviceID", ev.DeviceID, "kind", ev.Kind)
	}
}

// exchange writes a frame and collects responses until match returns true
// or the timeout expires. match receives every frame the read loop
// attributes to this command.
func (c *Client) exchange(ctx context.Context, raw []byte, match func(frame) (bool, error)) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	pending := make(chan frame, 8)
	c.pendMu.Lock()
	c.pending = pending
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		c.pending = nil
		c.pendMu.Unlock()
	}()

	if _, err := c.transport.Write(raw); err != nil {
		c.connected.Store(false)
		return fmt.Errorf("write to modem: %w", err)
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("insteon: command timed out")
		case f := <-pending:
			done, err := match(f)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// sendStd performs a standard-message exchange and returns the device's
// acknowledgement cmd2 byte.
func (c *Client) sendStd(ctx context.Context, to Address, cmd1, cmd2 byte) (byte, error) {
	var ackCmd2 byte
	err := c.exchange(ctx, buildStdFrame(to, cmd1, cmd2), func(f frame) (bool, error) {
		switch f.cmd {
		case cmdSendMessage:
			if f.payload[len(f.payload)-1] == frameNak {
				return false, fmt.Errorf("insteon: modem rejected command %02X", cmd1)
			}
			return false, nil
		case evtStdMessage:
			return stdAck(f.payload, to, &ackCmd2)
		}
		return false, nil
	})
	return ackCmd2, err
}

// sendExt performs an extended set/get exchange. When wantReply is true it
// waits for the device's extended response and returns its 14-byte user
// data block; otherwise the direct acknowledgement completes the exchange.
func (c *Client) sendExt(ctx context.Context, to Address, cmd1, cmd2 byte, data [14]byte, wantReply bool) ([]byte, error) {
	var (
		reply []byte
		acked bool
	)
	err := c.exchange(ctx, buildExtFrame(to, cmd1, cmd2, data), func(f frame) (bool, error) {
		switch f.cmd {
		case cmdSendMessage:
			if f.payload[len(f.payload)-1] == frameNak {
				return false, fmt.Errorf("insteon: modem rejected command %02X", cmd1)
			}
			return false, nil
		case evtStdMessage:
			var cmd2b byte
			done, err := stdAck(f.payload, to, &cmd2b)
			if err != nil {
				return false, err
			}
			if done {
				acked = true
				return !wantReply, nil
			}
			return false, nil
		case evtExtMessage:
			if len(f.payload) < extMessageLen || !addrEqual(f.payload[0:3], to) {
				return false, nil
			}
			reply = append([]byte(nil), f.payload[9:extMessageLen]...)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if wantReply && reply == nil {
		if !acked {
			return nil, fmt.Errorf("insteon: no response from device")
		}
		return nil, fmt.Errorf("insteon: device acked but sent no data")
	}
	return reply, nil
}

// stdAck evaluates a standard message as a direct response from to,
// storing the response cmd2 byte on success.
func stdAck(payload []byte, to Address, cmd2 *byte) (bool, error) {
	if len(payload) < stdMessageLen || !addrEqual(payload[0:3], to) {
		return false, nil
	}
	flags := payload[6]
	switch flags & flagBroadcastMask {
	case flagDirectNak:
		return false, fmt.Errorf("insteon: device %s rejected command (cmd2=%02X)", to, payload[8])
	case flagDirectAck:
		*cmd2 = payload[8]
		return true, nil
	}
	return false, nil
}

func addrEqual(raw []byte, addr Address) bool {
	return raw[0] == addr[0] && raw[1] == addr[1] && raw[2] == addr[2]
}
