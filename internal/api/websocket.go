package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/insteon-bridge/internal/bridge"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/logging"
)

// wsSendBufferSize is the per-client outbound message buffer size.
const wsSendBufferSize = 256

// Handler processes one inbound client frame. Satisfied by the bridge
// dispatcher.
type Handler interface {
	Handle(ctx context.Context, conn bridge.Responder, raw []byte)
}

// StatusFunc returns the current bridgestatus payload used to greet newly
// connected clients.
type StatusFunc func() any

// upgrader configures the WebSocket upgrader. Clients are LAN automation
// drivers, not browsers, so origin checking is disabled.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub manages WebSocket connections: registration, liveness sweeps,
// broadcasts, and handing inbound frames to the dispatcher.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	handler Handler
	status  StatusFunc

	clients map[*Client]struct{}
	mu      sync.RWMutex

	// ctx is the hub lifetime context, set by Run. Inbound frames are
	// dispatched with it so tracking sessions started by a command survive
	// the request (and the connection). ctxMu covers clients that connect
	// while Run is still starting.
	ctx   context.Context
	ctxMu sync.RWMutex
}

// Client is one connected WebSocket client.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	addr string

	// alive is the liveness flag cleared by the heartbeat sweep and set
	// by pongs, pings, and inbound frames.
	alive   bool
	aliveMu sync.Mutex
}

// NewHub creates a WebSocket hub. handler receives every inbound frame;
// status supplies the greeting payload for new connections.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, handler Handler, status StatusFunc) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		status:  status,
		clients: make(map[*Client]struct{}),
		ctx:     context.Background(),
	}
}

// Run executes the heartbeat sweep until ctx is cancelled, then closes
// every client. It blocks; call it in its own goroutine before serving.
func (h *Hub) Run(ctx context.Context) {
	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()

	ticker := time.NewTicker(h.cfg.GetHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep terminates clients that have not shown life since the previous
// round, then clears the flag on the survivors and pings them. A client
// therefore gets one full interval to answer before it is cut off.
func (h *Hub) sweep() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(h.cfg.GetWriteTimeout())
	for _, client := range clients {
		if !client.clearAlive() {
			h.logger.Warn("terminating unresponsive client", "client", client.addr)
			client.conn.Close()
			continue
		}
		// WriteControl is safe to call concurrently with writePump.
		if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.logger.Debug("ping failed", "client", client.addr, "error", err)
		}
	}
}

// HandleUpgrade upgrades an HTTP request into a managed client connection
// and greets it with the current bridge status.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, wsSendBufferSize),
		addr:  clientIP(r),
		alive: true,
	}

	h.register(client)

	go client.writePump()
	go client.readPump()

	client.Send(bridge.TypeBridgeStatus, h.status())
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("client connected", "client", client.addr, "clients", h.ClientCount())
}

// unregister removes a client from the hub. Only the goroutine that
// removes the client from the map closes the send channel, preventing
// double-close panics during shutdown.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Info("client disconnected", "client", client.addr, "clients", h.ClientCount())
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(bridge.Envelope{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "type", msgType, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(payload)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels so
// writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

// Send marshals a typed message and queues it to this client only.
func (c *Client) Send(msgType string, data any) {
	payload, err := json.Marshal(bridge.Envelope{Type: msgType, Data: data})
	if err != nil {
		c.hub.logger.Error("failed to marshal message", "type", msgType, "error", err)
		return
	}
	c.trySend(payload)
}

// trySend queues data for delivery, silently absorbing closed channels
// (client disconnected mid-broadcast) and full buffers (slow client).
func (c *Client) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// readPump reads frames from the connection and hands them to the
// dispatcher. Control frames and data frames alike mark the client alive.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	c.conn.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		c.markAlive()
		deadline := time.Now().Add(c.hub.cfg.GetWriteTimeout())
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client", c.addr, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client", c.addr)
			}
			return
		}

		c.markAlive()
		c.hub.logger.Debug("received message", "client", c.addr, "bytes", len(message))
		go c.hub.handler.Handle(c.hub.runContext(), c, message)
	}
}

// writePump drains the send channel onto the wire. Runs until the send
// channel is closed by unregister or closeAll.
func (c *Client) writePump() {
	defer c.conn.Close()

	writeTimeout := c.hub.cfg.GetWriteTimeout()

	for message := range c.send {
		//nolint:errcheck // Best-effort deadline; write error caught below
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	//nolint:errcheck // Best-effort close message
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// runContext returns the hub lifetime context handed to Run, or the
// Background fallback before Run starts.
func (h *Hub) runContext() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.ctx
}

func (c *Client) markAlive() {
	c.aliveMu.Lock()
	c.alive = true
	c.aliveMu.Unlock()
}

// clearAlive returns the current flag and resets it to false.
func (c *Client) clearAlive() bool {
	c.aliveMu.Lock()
	defer c.aliveMu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// clientIP extracts the peer address for logging, stripping the
// IPv4-mapped-IPv6 prefix dual-stack listeners produce.
func clientIP(r *http.Request) string {
	return strings.TrimPrefix(r.RemoteAddr, "::ffff:")
}
