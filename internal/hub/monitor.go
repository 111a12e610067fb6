package hub

import (
	"context"
	"sync/atomic"
	"time"
)

// Reconnection backoff bounds. The first retry happens quickly; repeated
// failures back off exponentially up to the cap so an unplugged hub does
// not generate a tight connect loop for days.
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 60 * time.Second
)

// Broadcaster delivers a message to every live client connection.
// Satisfied by the api package's connection hub.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

// Logger is the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Status is the payload of a "bridgestatus" message.
type Status struct {
	Message           string `json:"message"`
	InsteonConnection string `json:"insteonConnection"`
}

// Monitor owns the hub connection attempt and the process-wide connectivity
// flag. The bridge keeps serving client connections while disconnected; new
// clients are greeted with whatever Status() currently reports.
//
// Thread Safety: Connected and Status are safe to call from any goroutine.
type Monitor struct {
	ctrl      Controller
	sink      Broadcaster
	logger    Logger
	name      string
	connected atomic.Bool

	// checkInterval is how often the link is re-verified after a
	// successful connect. Overridable in tests.
	checkInterval time.Duration
}

// NewMonitor creates a connectivity monitor for the given controller.
// name is the human-readable hub name used in status messages.
func NewMonitor(ctrl Controller, sink Broadcaster, logger Logger, name string) *Monitor {
	return &Monitor{
		ctrl:          ctrl,
		sink:          sink,
		logger:        logger,
		name:          name,
		checkInterval: 5 * time.Second,
	}
}

// Connected reports the current hub connectivity flag.
func (m *Monitor) Connected() bool {
	return m.connected.Load()
}

// Status returns the bridgestatus payload describing current connectivity.
// Used both for broadcasts and for greeting newly connected clients.
func (m *Monitor) Status() Status {
	if m.connected.Load() {
		return Status{Message: "Connected to hub", InsteonConnection: "connected"}
	}
	return Status{Message: "Not connected to hub", InsteonConnection: "disconnected"}
}

// Run connects to the hub and keeps the connectivity flag in sync with the
// link state, reconnecting with exponential backoff after failures. It
// returns when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		if err := m.connect(ctx); err != nil {
			return // ctx cancelled
		}

		// Watch the link until it drops.
		if err := m.watch(ctx); err != nil {
			return
		}
	}
}

// connect attempts to establish the hub link, backing off between failures.
// Returns a non-nil error only when ctx is cancelled.
func (m *Monitor) connect(ctx context.Context) error {
	delay := initialReconnectDelay
	for {
		m.logger.Info("connecting to hub", "name", m.name)
		err := m.ctrl.Connect(ctx)
		if err == nil {
			m.connected.Store(true)
			m.logger.Info("connected to hub", "name", m.name)
			m.sink.Broadcast("bridgestatus", m.Status())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.logger.Warn("hub connection failed", "name", m.name, "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// watch polls the link state and flips the flag (with a broadcast) when the
// hub goes away. Returns nil on link loss, ctx.Err() on cancellation.
func (m *Monitor) watch(ctx context.Context) error {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.ctrl.Connected() {
				continue
			}
			m.connected.Store(false)
			m.logger.Warn("hub connection lost", "name", m.name)
			m.sink.Broadcast("bridgestatus", m.Status())
			return nil
		}
	}
}
