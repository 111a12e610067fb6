package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Insteon bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Hub       HubConfig       `yaml:"hub"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// BridgeConfig contains the client-facing WebSocket listener settings.
type BridgeConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HubConfig contains Insteon hub connection settings.
//
// Model selects the connection strategy:
//   - "2245": HTTP-polled hub, requires username/password
//   - "2243": serial-attached hub
//   - "2242": IP-direct hub
//   - "plm":  serial PowerLinc modem
type HubConfig struct {
	Model    string `yaml:"model"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	BaudRate int    `yaml:"baud_rate"`

	// Legacy key aliases accepted for compatibility with configs written
	// for other bridge servers. Reconciled into the canonical fields by Load.
	User    string `yaml:"user"`
	Pass    string `yaml:"pass"`
	HubPort int    `yaml:"hubPort"`
}

// WebSocketConfig contains WebSocket connection-management settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	// HeartbeatInterval is the liveness sweep period in seconds. A client
	// that has not answered a ping within one full round is terminated.
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	WriteTimeout      int `yaml:"write_timeout"`
}

// MQTTConfig contains settings for the optional MQTT event mirror.
// When disabled, the WebSocket channel is the only outbound interface.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig describes one physical Insteon unit.
type DeviceConfig struct {
	Name       string `yaml:"name" json:"name"`
	DeviceID   string `yaml:"deviceID" json:"deviceID"`
	DeviceType string `yaml:"deviceType" json:"deviceType"`
}

// Known hub models and device types. Validation rejects anything else so a
// typo in the config fails at startup rather than at first command.
var (
	knownModels = []string{"2245", "2243", "2242", "plm"}

	knownDeviceTypes = []string{
		"switch", "dimmer", "lightbulb", "leaksensor",
		"contactsensor", "windowsensor", "doorsensor",
	}
)

// NormalizeDeviceID canonicalises a device identifier: uppercase with the
// common `.` and `:` separators stripped, so "aa.bb.cc" and "AABBCC" refer
// to the same unit. Every configured ID and every lookup goes through this.
func NormalizeDeviceID(id string) string {
	id = strings.ToUpper(id)
	id = strings.ReplaceAll(id, ".", "")
	id = strings.ReplaceAll(id, ":", "")
	return id
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INSTEON_BRIDGE_SECTION_KEY
// For example: INSTEON_BRIDGE_HUB_HOST, INSTEON_BRIDGE_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.reconcileAliases()
	applyEnvOverrides(cfg)
	cfg.normalizeDevices()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Name: "Insteon Bridge",
			Host: "0.0.0.0",
			Port: 8080,
		},
		Hub: HubConfig{
			Port:     25105,
			BaudRate: 19200,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize:    8192,
			HeartbeatInterval: 30,
			WriteTimeout:      10,
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "insteon-bridge",
			QoS:      1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// reconcileAliases folds the legacy key names into the canonical fields.
// A canonical value, when present, always wins over its alias.
func (c *Config) reconcileAliases() {
	if c.Hub.Username == "" && c.Hub.User != "" {
		c.Hub.Username = c.Hub.User
	}
	if c.Hub.Password == "" && c.Hub.Pass != "" {
		c.Hub.Password = c.Hub.Pass
	}
	if c.Hub.HubPort != 0 {
		c.Hub.Port = c.Hub.HubPort
	}
	c.Hub.User = ""
	c.Hub.Pass = ""
	c.Hub.HubPort = 0
}

// normalizeDevices canonicalises configured device IDs and types.
func (c *Config) normalizeDevices() {
	for i := range c.Devices {
		c.Devices[i].DeviceID = NormalizeDeviceID(c.Devices[i].DeviceID)
		c.Devices[i].DeviceType = strings.ToLower(c.Devices[i].DeviceType)
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INSTEON_BRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Port = port
		}
	}
	if v := os.Getenv("INSTEON_BRIDGE_HUB_HOST"); v != "" {
		cfg.Hub.Host = v
	}
	if v := os.Getenv("INSTEON_BRIDGE_HUB_USERNAME"); v != "" {
		cfg.Hub.Username = v
	}
	if v := os.Getenv("INSTEON_BRIDGE_HUB_PASSWORD"); v != "" {
		cfg.Hub.Password = v
	}
	if v := os.Getenv("INSTEON_BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("INSTEON_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("INSTEON_BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.Name == "" {
		errs = append(errs, "bridge.name is required")
	}
	if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
		errs = append(errs, "bridge.port must be between 1 and 65535")
	}

	if c.Hub.Host == "" {
		errs = append(errs, "hub.host is required")
	}
	if !contains(knownModels, c.Hub.Model) {
		errs = append(errs, fmt.Sprintf("hub.model %q is unknown (known models: %s)",
			c.Hub.Model, strings.Join(knownModels, ", ")))
	}
	// The 2245 hub authenticates every request; credentials are mandatory.
	if c.Hub.Model == "2245" {
		if c.Hub.Username == "" {
			errs = append(errs, "hub.username is required for model 2245")
		}
		if c.Hub.Password == "" {
			errs = append(errs, "hub.password is required for model 2245")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(c.Devices) == 0 {
		errs = append(errs, "at least one device must be configured")
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		if dev.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
		}
		if dev.DeviceID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].deviceID is required", i))
		} else if seen[dev.DeviceID] {
			errs = append(errs, fmt.Sprintf("devices[%d].deviceID %q is duplicated", i, dev.DeviceID))
		}
		seen[dev.DeviceID] = true
		if !contains(knownDeviceTypes, dev.DeviceType) {
			errs = append(errs, fmt.Sprintf("device %q has unknown deviceType %q (known types: %s)",
				dev.Name, dev.DeviceType, strings.Join(knownDeviceTypes, ", ")))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy of the configuration safe for logging, with
// credentials masked.
func (c *Config) Redacted() Config {
	cpy := *c
	if cpy.Hub.Username != "" {
		cpy.Hub.Username = "*****"
	}
	if cpy.Hub.Password != "" {
		cpy.Hub.Password = "*****"
	}
	if cpy.MQTT.Password != "" {
		cpy.MQTT.Password = "*****"
	}
	return cpy
}

// GetHeartbeatInterval returns the liveness sweep period as a Duration.
func (w WebSocketConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Second
}

// GetWriteTimeout returns the write timeout as a Duration.
func (w WebSocketConfig) GetWriteTimeout() time.Duration {
	return time.Duration(w.WriteTimeout) * time.Second
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
