package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// scriptController fails Connect a set number of times, then succeeds and
// reports link state from a flag.
type scriptController struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	linkUp    bool
	connectCh chan struct{}
}

func newScriptController(failures int) *scriptController {
	return &scriptController{failures: failures, connectCh: make(chan struct{}, 16)}
}

func (s *scriptController) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	select {
	case s.connectCh <- struct{}{}:
	default:
	}
	if s.attempts <= s.failures {
		return errors.New("connection refused")
	}
	s.linkUp = true
	return nil
}

func (s *scriptController) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkUp
}

func (s *scriptController) dropLink() {
	s.mu.Lock()
	s.linkUp = false
	s.mu.Unlock()
}

func (s *scriptController) Control(string, Category) Control { return nil }
func (s *scriptController) Events() <-chan Event             { return nil }
func (s *scriptController) Close() error                     { return nil }

// recordingSink captures broadcasts and signals each one.
type recordingSink struct {
	mu   sync.Mutex
	msgs []Status
	ch   chan Status
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan Status, 16)}
}

func (r *recordingSink) Broadcast(msgType string, data any) {
	status, ok := data.(Status)
	if !ok {
		return
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, status)
	r.mu.Unlock()
	r.ch <- status
}

func (r *recordingSink) wait(t *testing.T) Status {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status broadcast")
		return Status{}
	}
}

func TestStatusReflectsConnectivity(t *testing.T) {
	m := NewMonitor(newScriptController(0), newRecordingSink(), testLogger{}, "test hub")

	if got := m.Status(); got.InsteonConnection != "disconnected" {
		t.Errorf("initial status = %+v, want disconnected", got)
	}

	m.connected.Store(true)
	if got := m.Status(); got.InsteonConnection != "connected" {
		t.Errorf("status after connect = %+v, want connected", got)
	}
}

func TestMonitorBroadcastsOnConnect(t *testing.T) {
	ctrl := newScriptController(0)
	sink := newRecordingSink()
	m := NewMonitor(ctrl, sink, testLogger{}, "test hub")
	m.checkInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	status := sink.wait(t)
	if status.InsteonConnection != "connected" {
		t.Errorf("broadcast = %+v, want connected", status)
	}
	if !m.Connected() {
		t.Error("Connected() = false after successful connect")
	}
}

func TestMonitorRetriesFailedConnects(t *testing.T) {
	ctrl := newScriptController(2)
	sink := newRecordingSink()
	m := NewMonitor(ctrl, sink, testLogger{}, "test hub")
	m.checkInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Two failures at 1s and 2s backoff, then success.
	deadline := time.After(10 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-ctrl.connectCh:
		case <-deadline:
			t.Fatal("timed out waiting for connect attempts")
		}
	}

	status := sink.wait(t)
	if status.InsteonConnection != "connected" {
		t.Errorf("broadcast after retries = %+v, want connected", status)
	}
}

func TestMonitorDetectsLinkLossAndReconnects(t *testing.T) {
	ctrl := newScriptController(0)
	sink := newRecordingSink()
	m := NewMonitor(ctrl, sink, testLogger{}, "test hub")
	m.checkInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if s := sink.wait(t); s.InsteonConnection != "connected" {
		t.Fatalf("initial broadcast = %+v", s)
	}

	ctrl.dropLink()

	if s := sink.wait(t); s.InsteonConnection != "disconnected" {
		t.Fatalf("loss broadcast = %+v, want disconnected", s)
	}

	// The monitor goes straight back into the connect loop; Connect
	// succeeds immediately and flips the link up again.
	if s := sink.wait(t); s.InsteonConnection != "connected" {
		t.Fatalf("reconnect broadcast = %+v, want connected", s)
	}
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	// A controller that always fails keeps the monitor in its backoff
	// loop; cancellation must still end Run promptly.
	ctrl := newScriptController(1000)
	m := NewMonitor(ctrl, newRecordingSink(), testLogger{}, "test hub")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}
