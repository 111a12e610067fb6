// Insteon Bridge Server
//
// A WebSocket bridge between LAN automation drivers and an Insteon hub or
// PowerLinc modem: clients list and command devices over a small JSON
// protocol and receive state events for both commanded and physical
// changes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/insteon-bridge/internal/api"
	"github.com/nerrad567/insteon-bridge/internal/bridge"
	"github.com/nerrad567/insteon-bridge/internal/device"
	"github.com/nerrad567/insteon-bridge/internal/hub"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/insteon-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/insteon-bridge/internal/insteon"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Insteon bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Debug("effective configuration", "config", cfg.Redacted())

	// Hub client for the configured model
	hubClient, err := insteon.NewClient(cfg.Hub, log)
	if err != nil {
		return fmt.Errorf("creating hub client: %w", err)
	}
	defer func() {
		log.Info("closing hub connection")
		if closeErr := hubClient.Close(); closeErr != nil {
			log.Error("error closing hub connection", "error", closeErr)
		}
	}()

	registry, err := device.NewRegistry(cfg.Devices, hubClient)
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", registry.Count())
	for _, dev := range registry.All() {
		log.Debug("device registered", "name", dev.Name, "deviceID", dev.ID, "type", dev.Type)
	}

	// Optional MQTT mirror
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			mqttClient.Close()
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)
	} else {
		log.Info("MQTT mirror disabled")
	}

	// WebSocket surface: dispatcher behind the connection hub. The status
	// sink is filled in once the hub exists; nothing broadcasts before
	// the server starts.
	dispatcher := bridge.NewDispatcher(registry, log)

	sink := &statusBroadcaster{mqtt: mqttClient}
	monitor := hub.NewMonitor(hubClient, sink, log, cfg.Bridge.Name)
	wsHub := api.NewHub(cfg.WebSocket, log, dispatcher, func() any {
		return monitor.Status()
	})
	sink.ws = wsHub

	server := api.NewServer(cfg.Bridge, wsHub, log)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting websocket server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing websocket server", "error", closeErr)
		}
	}()

	go monitor.Run(ctx)

	// Hardware events fan out to every client (and the mirror)
	var mirror bridge.Mirror
	if mqttClient != nil {
		mirror = mqttClient
	}
	fanout := bridge.NewFanout(registry, hubClient.Events(), wsHub, mirror, log)
	go fanout.Run(ctx)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses INSTEON_BRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INSTEON_BRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// statusBroadcaster fans bridgestatus messages out to WebSocket clients
// and, when configured, the MQTT hub-status topic.
type statusBroadcaster struct {
	ws   *api.Hub
	mqtt *mqtt.Client
}

func (b *statusBroadcaster) Broadcast(msgType string, data any) {
	b.ws.Broadcast(msgType, data)
	if b.mqtt != nil {
		b.mqtt.PublishJSON(mqtt.HubStatusTopic, data, true)
	}
}
