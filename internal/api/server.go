package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// connections.
const gracefulShutdownTimeout = 10 * time.Second

// Server is the WebSocket listener. Every connection lands on the hub; no
// other routes exist.
type Server struct {
	cfg    config.BridgeConfig
	hub    *Hub
	logger *logging.Logger

	server *http.Server
	cancel context.CancelFunc
}

// NewServer creates the WebSocket server over the given hub.
func NewServer(cfg config.BridgeConfig, hub *Hub, logger *logging.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger,
	}
}

// Start launches the hub loop and the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.hub.HandleUpgrade)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("websocket server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the listener and disconnects all clients.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("websocket server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down websocket server: %w", err)
	}
	return nil
}
