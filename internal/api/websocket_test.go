package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/insteon-bridge/internal/bridge"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/logging"
)

// echoHandler replies to each frame with an error message carrying the raw
// input, and records what it saw.
type echoHandler struct {
	mu     sync.Mutex
	frames [][]byte
	ch     chan []byte
}

func newEchoHandler() *echoHandler {
	return &echoHandler{ch: make(chan []byte, 16)}
}

func (h *echoHandler) Handle(_ context.Context, conn bridge.Responder, raw []byte) {
	h.mu.Lock()
	h.frames = append(h.frames, raw)
	h.mu.Unlock()
	h.ch <- raw
	conn.Send(bridge.TypeError, bridge.ErrorData{Message: string(raw)})
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		MaxMessageSize:    8192,
		HeartbeatInterval: 30,
		WriteTimeout:      5,
	}
}

func testStatus() any {
	return map[string]string{"msg": "bridgestatus", "insteonConnection": "connected"}
}

func testHub(t *testing.T, handler Handler) (*Hub, string) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(testWSConfig(), log, handler, testStatus)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleUpgrade))
	t.Cleanup(srv.Close)

	return hub, "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) bridge.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var env bridge.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return env
}

func TestGreetingOnConnect(t *testing.T) {
	_, url := testHub(t, newEchoHandler())
	ws := dial(t, url)

	env := readEnvelope(t, ws)
	if env.Type != bridge.TypeBridgeStatus {
		t.Errorf("greeting type = %q, want %q", env.Type, bridge.TypeBridgeStatus)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("greeting data = %T", env.Data)
	}
	if data["insteonConnection"] != "connected" {
		t.Errorf("greeting data = %v", data)
	}
}

func TestInboundFrameReachesHandler(t *testing.T) {
	handler := newEchoHandler()
	_, url := testHub(t, handler)
	ws := dial(t, url)
	readEnvelope(t, ws) // greeting

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"method":"getDevices"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case raw := <-handler.ch:
		if string(raw) != `{"method":"getDevices"}` {
			t.Errorf("handler received %q", raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler never received the frame")
	}

	// The handler's reply comes back on the same connection.
	env := readEnvelope(t, ws)
	if env.Type != bridge.TypeError {
		t.Errorf("reply type = %q, want %q", env.Type, bridge.TypeError)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, url := testHub(t, newEchoHandler())

	first := dial(t, url)
	second := dial(t, url)
	readEnvelope(t, first)
	readEnvelope(t, second)

	waitForClients(t, hub, 2)
	hub.Broadcast(bridge.TypeEvent, bridge.EventData{
		Name:       "Desk Lamp",
		DeviceID:   "AA0001",
		DeviceType: "dimmer",
		State:      75,
	})

	for _, ws := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, ws)
		if env.Type != bridge.TypeEvent {
			t.Errorf("broadcast type = %q, want %q", env.Type, bridge.TypeEvent)
		}
	}
}

func TestClientCountTracksConnections(t *testing.T) {
	hub, url := testHub(t, newEchoHandler())

	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("initial ClientCount = %d", n)
	}

	ws := dial(t, url)
	readEnvelope(t, ws)
	waitForClients(t, hub, 1)

	ws.Close()
	waitForClients(t, hub, 0)
}

func TestSweepTerminatesSilentClient(t *testing.T) {
	hub, url := testHub(t, newEchoHandler())

	ws := dial(t, url)
	readEnvelope(t, ws)
	waitForClients(t, hub, 1)

	// The client never reads, so the sweep's ping is never answered. The
	// first sweep clears the alive flag; the second finds it still cleared
	// and cuts the connection.
	hub.sweep()
	hub.sweep()

	waitForClients(t, hub, 0)
}

func TestResponsiveClientSurvivesSweeps(t *testing.T) {
	hub, url := testHub(t, newEchoHandler())

	ws := dial(t, url)
	readEnvelope(t, ws)
	waitForClients(t, hub, 1)

	// Reading keeps the default pong handler answering pings.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		hub.sweep()
		time.Sleep(50 * time.Millisecond)
	}

	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d after sweeps, want 1", n)
	}
}

func TestRunClosesClientsOnCancel(t *testing.T) {
	hub, url := testHub(t, newEchoHandler())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ws := dial(t, url)
	readEnvelope(t, ws)
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// ctxHandler captures the context each frame is dispatched with.
type ctxHandler struct {
	ch chan context.Context
}

func (h *ctxHandler) Handle(ctx context.Context, _ bridge.Responder, _ []byte) {
	h.ch <- ctx
}

func TestDispatchCarriesRunContext(t *testing.T) {
	handler := &ctxHandler{ch: make(chan context.Context, 1)}
	hub, url := testHub(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for hub.runContext() != ctx {
		if !time.Now().Before(deadline) {
			t.Fatal("Run never installed its context")
		}
		time.Sleep(time.Millisecond)
	}

	ws := dial(t, url)
	readEnvelope(t, ws)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"method":"getDevices"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got context.Context
	select {
	case got = <-handler.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never received the frame")
	}

	cancel()
	select {
	case <-got.Done():
	case <-time.After(time.Second):
		t.Error("dispatched context does not follow the Run context")
	}
}

func TestClearAliveResetsFlag(t *testing.T) {
	c := &Client{alive: true}

	if !c.clearAlive() {
		t.Error("first clearAlive = false, want true")
	}
	if c.clearAlive() {
		t.Error("second clearAlive = true, want false")
	}

	c.markAlive()
	if !c.clearAlive() {
		t.Error("clearAlive after markAlive = false, want true")
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), want)
}
