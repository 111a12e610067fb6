package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("INSTEON_BRIDGE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("INSTEON_BRIDGE_CONFIG", "/etc/insteon/bridge.yaml")
	if got := getConfigPath(); got != "/etc/insteon/bridge.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("INSTEON_BRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_UnknownHubModel verifies run fails when the configured hub model
// is not a supported one.
func TestRun_UnknownHubModel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
bridge:
  name: test-bridge
  host: "127.0.0.1"
  port: 8080

hub:
  model: "9999"
  host: "127.0.0.1"
  port: 25105

websocket:
  max_message_size: 8192
  heartbeat_interval: 30
  write_timeout: 10

logging:
  level: error
  format: text
  output: stdout

devices: []
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("INSTEON_BRIDGE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an unsupported hub model")
	}
}
