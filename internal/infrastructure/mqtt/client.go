package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/insteon-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	maxQoS = 2

	// maxPayloadSize prevents resource exhaustion and aligns with typical
	// broker limits.
	maxPayloadSize = 1 << 20 // 1MB
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client wraps paho.mqtt.golang for the bridge's mirror channel.
//
// It provides connection management with automatic reconnection and a
// Last Will so consumers can distinguish a stopped bridge from a silent
// one.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger

	connected bool
	connMu    sync.RWMutex
}

// Connect establishes a connection to the MQTT broker, configuring a Last
// Will ("offline", retained) on the status topic and publishing "online"
// once connected.
func Connect(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(60 * time.Second).
		SetWill(StatusTopic, "offline", byte(cfg.QoS), true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := &Client{cfg: cfg, logger: logger}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
		if err := c.Publish(StatusTopic, []byte("online"), byte(cfg.QoS), true); err != nil {
			logger.Warn("mqtt status publish failed", "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback runs asynchronously and may not have fired
	// yet; set the flag here so IsConnected is immediately accurate.
	c.setConnected(true)

	return c, nil
}

// IsConnected reports the current broker connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Publish sends a message to the specified MQTT topic.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON marshals payload and publishes it at the configured QoS.
// Marshalling or delivery failures are logged, never propagated: the
// mirror must not disturb the WebSocket path.
func (c *Client) PublishJSON(topic string, payload any, retained bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("mqtt payload marshal failed", "topic", topic, "error", err)
		return
	}
	if err := c.Publish(topic, data, byte(c.cfg.QoS), retained); err != nil {
		c.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// PublishEvent mirrors one device event onto its event topic.
func (c *Client) PublishEvent(deviceID string, payload any) {
	c.PublishJSON(EventTopic(deviceID), payload, false)
}

// Close publishes the offline status and disconnects from the broker.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	if err := c.Publish(StatusTopic, []byte("offline"), byte(c.cfg.QoS), true); err != nil {
		c.logger.Warn("mqtt offline publish failed", "error", err)
	}
	c.setConnected(false)
	c.client.Disconnect(250) // wait up to 250ms for in-flight work
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}
