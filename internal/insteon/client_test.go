package insteon

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/insteon-bridge/internal/hub"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/logging"
)

// fakeTransport is an in-memory modem: written frames invoke onWrite,
// which typically queues scripted responses for Read.
type fakeTransport struct {
	mu      sync.Mutex
	in      chan []byte
	written [][]byte
	onWrite func(frame []byte)
	closed  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16)}
}

func (f *fakeTransport) Open(context.Context) error { return nil }

func (f *fakeTransport) Read(p []byte) (int, error) {
	b, ok := <-f.in
	if !ok {
		return 0, io.EOF
	}
	return copy(p, b), nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	frame := append([]byte(nil), p...)
	f.mu.Lock()
	f.written = append(f.written, frame)
	onWrite := f.onWrite
	f.mu.Unlock()
	if onWrite != nil {
		onWrite(frame)
	}
	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.closed.Do(func() { close(f.in) })
	return nil
}

func (f *fakeTransport) respond(frames ...[]byte) {
	for _, frame := range frames {
		f.in <- frame
	}
}

func newTestClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	c := &Client{
		transport:  ft,
		logger:     logging.Default(),
		events:     make(chan hub.Event, eventBufferSize),
		categories: make(map[string]hub.Category),
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// device frames for AB.12.CD talking to a modem at 11.22.33.
var (
	testAddr = Address{0xAB, 0x12, 0xCD}

	echoAck = []byte{0x02, 0x62, 0xAB, 0x12, 0xCD, 0x0F, 0x19, 0x00, 0x06}
)

func stdResponse(flags, cmd1, cmd2 byte) []byte {
	return []byte{0x02, 0x50, 0xAB, 0x12, 0xCD, 0x11, 0x22, 0x33, flags, cmd1, cmd2}
}

func TestLevelExchange(t *testing.T) {
	ft := newFakeTransport()
	ft.onWrite = func([]byte) {
		ft.respond(echoAck, stdResponse(flagDirectAck, cmdStatusRequest, 0xFF))
	}
	c := newTestClient(t, ft)

	ctl := c.Control(testAddr.String(), hub.CategoryLight)
	level, err := ctl.Level(context.Background())
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if level != 100 {
		t.Errorf("level = %d, want 100", level)
	}
}

func TestDeviceNakFailsCommand(t *testing.T) {
	ft := newFakeTransport()
	ft.onWrite = func([]byte) {
		ft.respond(echoAck, stdResponse(flagDirectNak, cmdStatusRequest, 0xFE))
	}
	c := newTestClient(t, ft)

	ctl := c.Control(testAddr.String(), hub.CategoryLight)
	if _, err := ctl.Level(context.Background()); err == nil {
		t.Error("Level succeeded despite device NAK")
	}
}

func TestTurnOnEmitsLevelledEvent(t *testing.T) {
	ft := newFakeTransport()
	ft.onWrite = func([]byte) {
		ft.respond(echoAck, stdResponse(flagDirectAck, cmdOn, 0xBF))
	}
	c := newTestClient(t, ft)

	ctl := c.Control(testAddr.String(), hub.CategoryLight)
	level := 75
	status, err := ctl.TurnOn(context.Background(), &level, nil)
	if err != nil || !status.Success {
		t.Fatalf("TurnOn: status=%+v err=%v", status, err)
	}

	select {
	case ev := <-c.Events():
		if ev.Kind != hub.EventTurnOn || ev.Level == nil || *ev.Level != 75 {
			t.Errorf("event = %+v, want turnOn at 75", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after acked TurnOn")
	}
}

func TestInfoExchangeParsesConfig(t *testing.T) {
	ext := make([]byte, 2+extMessageLen)
	copy(ext, []byte{0x02, 0x51, 0xAB, 0x12, 0xCD, 0x11, 0x22, 0x33, 0x1F, cmdExtSetGet, 0x00})
	userData := ext[11:]
	userData[6] = 0x1C // ramp register: 500ms
	userData[7] = 0xFF // on-level: 100%

	ft := newFakeTransport()
	ft.onWrite = func([]byte) {
		ft.respond(echoAck, stdResponse(flagDirectAck, cmdExtSetGet, 0x00), ext)
	}
	c := newTestClient(t, ft)

	ctl := c.Control(testAddr.String(), hub.CategoryLight)
	info, err := ctl.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.DeviceID != "AB12CD" {
		t.Errorf("DeviceID = %q", info.DeviceID)
	}
	if info.RampRate != 500 {
		t.Errorf("RampRate = %d, want 500", info.RampRate)
	}
	if info.OnLevel != 100 {
		t.Errorf("OnLevel = %d, want 100", info.OnLevel)
	}
}

func TestBroadcastBecomesEvent(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft)
	c.Control(testAddr.String(), hub.CategoryDoor)

	// ALL-Link broadcast: target low byte carries the group.
	ft.respond([]byte{0x02, 0x50, 0xAB, 0x12, 0xCD, 0x00, 0x00, 0x01, flagAllLinkBcast, cmdOn, 0x01})

	select {
	case ev := <-c.Events():
		if ev.DeviceID != "AB12CD" || ev.Kind != hub.EventOpened {
			t.Errorf("event = %+v, want opened from AB12CD", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast did not produce an event")
	}
}

func TestCleanupBroadcastIsIgnored(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft)
	c.Control(testAddr.String(), hub.CategoryDoor)

	ft.respond([]byte{0x02, 0x50, 0xAB, 0x12, 0xCD, 0x00, 0x00, 0x01, flagAllLinkClean, cmdOn, 0x01})

	select {
	case ev := <-c.Events():
		t.Errorf("cleanup produced event %+v, want none", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReadFailureDropsConnectedFlag(t *testing.T) {
	ft := newFakeTransport()
	c := newTestClient(t, ft)

	if !c.Connected() {
		t.Fatal("client not connected after Connect")
	}

	_ = ft.Close() // transport dies

	deadline := time.Now().Add(time.Second)
	for c.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Connected() {
		t.Error("Connected() still true after transport failure")
	}
}
