package bridge

import (
	"context"
	"time"

	"github.com/nerrad567/insteon-bridge/internal/device"
)

// Ramp-duration buckets for poll-interval selection. Fast ramps are polled
// tightly; multi-minute ramps are sampled sparsely to bound hub traffic.
const (
	shortRamp        = 2 * time.Second
	mediumRamp       = 60 * time.Second
	shortRampPoll    = 500 * time.Millisecond
	mediumRampPoll   = 1 * time.Second
	longRampPoll     = 30 * time.Second
	trackGraceMargin = 5 * time.Second
)

// PollInterval selects the sampling cadence for a ramp of the given
// duration.
func PollInterval(ramp time.Duration) time.Duration {
	switch {
	case ramp <= shortRamp:
		return shortRampPoll
	case ramp <= mediumRamp:
		return mediumRampPoll
	default:
		return longRampPoll
	}
}

// TrackTimeout returns the effective session timeout for a ramp: the ramp
// duration plus a fixed margin tolerating scheduling jitter and hub latency.
func TrackTimeout(ramp time.Duration) time.Duration {
	return ramp + trackGraceMargin
}

// sessionState is the tracker's explicit state machine.
type sessionState int

const (
	stateScheduled sessionState = iota
	stateSampling
	stateTerminated
)

// LevelReader samples a device's current level. Satisfied by hub.Control.
type LevelReader interface {
	Level(ctx context.Context) (int, error)
}

// Session polls a device's level at a fixed cadence until the sampled
// level reaches an expected value or a timeout elapses, emitting an event
// message to its destination after every sample.
//
// Sessions address the device, not a connection: the destination Responder
// may be a single client or a broadcast adapter, and closing a client does
// not cancel sessions whose events other clients still consume. A session
// self-terminates only via its own stop conditions (or ctx cancellation at
// process shutdown).
type Session struct {
	name     string
	deviceID string
	devType  device.Type
	reader   LevelReader
	sink     Responder
	logger   Logger

	expected *int
	interval time.Duration
	timeout  time.Duration // 0 means no timeout
	start    time.Time
	state    sessionState
}

// NewSession creates a level-tracking session for a device.
//
// expected may be nil (track until timeout); timeout may be 0 (track until
// the expected level is reached). At least one bound must be present, or
// ErrTrackerUnbounded is returned.
func NewSession(dev *device.Device, sink Responder, logger Logger, expected *int, interval, timeout time.Duration) (*Session, error) {
	if expected == nil && timeout == 0 {
		return nil, ErrTrackerUnbounded
	}
	return &Session{
		name:     dev.Name,
		deviceID: dev.ID,
		devType:  dev.Type,
		reader:   dev.Control(),
		sink:     sink,
		logger:   logger,
		expected: expected,
		interval: interval,
		timeout:  timeout,
		state:    stateScheduled,
	}, nil
}

// Run executes the session until it terminates. It blocks; callers start
// it in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	s.start = time.Now()

	for s.state != stateTerminated {
		delay := s.nextDelay()
		s.logger.Debug("level poll scheduled",
			"device", s.name, "delay", delay, "expected", levelOrNil(s.expected))

		select {
		case <-ctx.Done():
			s.state = stateTerminated
			return
		case <-time.After(delay):
		}

		s.state = stateSampling
		s.tick(ctx)
	}
}

// tick samples the level once, emits the event, and evaluates the
// termination predicate: expected level first, then timeout.
func (s *Session) tick(ctx context.Context) {
	level, err := s.reader.Level(ctx)
	if err != nil {
		// A failed read is fatal to this session only. The device may be
		// unreachable; the rest of the bridge keeps running.
		s.logger.Warn("level poll failed, stopping session", "device", s.name, "error", err)
		s.state = stateTerminated
		return
	}

	// Emit unconditionally, on every tick, even if nothing changed.
	s.sink.Send(TypeEvent, EventData{
		Name:       s.name,
		DeviceID:   s.deviceID,
		DeviceType: s.devType,
		State:      level,
	})

	if s.expected != nil && level == *s.expected {
		s.logger.Debug("level poll reached expected level", "device", s.name, "level", level)
		s.state = stateTerminated
		return
	}
	if s.timeout > 0 && time.Since(s.start) > s.timeout {
		s.logger.Debug("level poll reached timeout", "device", s.name, "timeout", s.timeout)
		s.state = stateTerminated
		return
	}

	s.state = stateScheduled
}

// nextDelay applies the delay-selection rule: the poll interval, capped by
// the timeout when one is set.
func (s *Session) nextDelay() time.Duration {
	if s.timeout > 0 && s.timeout < s.interval {
		return s.timeout
	}
	return s.interval
}

func levelOrNil(level *int) any {
	if level == nil {
		return nil
	}
	return *level
}
