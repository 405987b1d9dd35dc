package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Lamps) != 0 {
		t.Errorf("Lamps = %v, want none", cfg.Lamps)
	}
	if cfg.BLE.MaxAttempts != 4 {
		t.Errorf("BLE.MaxAttempts = %d, want 4", cfg.BLE.MaxAttempts)
	}
	if cfg.BLE.ConnectTimeout != 10*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 10s", cfg.BLE.ConnectTimeout)
	}
	if cfg.Lamp.PairDelay != 300*time.Millisecond {
		t.Errorf("Lamp.PairDelay = %v, want 300ms", cfg.Lamp.PairDelay)
	}
	if cfg.Lamp.PowerSettle != 500*time.Millisecond {
		t.Errorf("Lamp.PowerSettle = %v, want 500ms", cfg.Lamp.PowerSettle)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("MQTT.Port = %d, want 1883", cfg.MQTT.Port)
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("MQTT.DiscoveryPrefix = %q, want %q", cfg.MQTT.DiscoveryPrefix, "homeassistant")
	}
	if cfg.Hotkey.Mode != "toggle" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "toggle")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
lamps:
  - name: desk
    address: "F8:24:41:E6:3E:39"
  - name: shelf
    address: "48:53:52:01:D6:40"
ble:
  connect_timeout: 5s
  max_attempts: 2
lamp:
  pair_delay: 1s
mqtt:
  host: broker.lan
  port: 8883
  tls: true
  qos: 0
hotkey:
  keys: ["alt", "l"]
  mode: hold
  lamp: "48:53:52:01:D6:40"
log_level: debug
log_format: json
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Lamps) != 2 || cfg.Lamps[1].Name != "shelf" {
		t.Errorf("Lamps = %+v, want desk and shelf", cfg.Lamps)
	}
	if cfg.BLE.ConnectTimeout != 5*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 5s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.MaxAttempts != 2 {
		t.Errorf("BLE.MaxAttempts = %d, want 2", cfg.BLE.MaxAttempts)
	}
	if cfg.BLE.ScanTimeout != 5*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want default 5s", cfg.BLE.ScanTimeout)
	}
	if cfg.Lamp.PairDelay != time.Second {
		t.Errorf("Lamp.PairDelay = %v, want 1s", cfg.Lamp.PairDelay)
	}
	if cfg.Lamp.PowerSettle != 500*time.Millisecond {
		t.Errorf("Lamp.PowerSettle = %v, want default 500ms", cfg.Lamp.PowerSettle)
	}
	if cfg.MQTT.Host != "broker.lan" || cfg.MQTT.Port != 8883 || !cfg.MQTT.TLS {
		t.Errorf("MQTT = %+v, want broker.lan:8883 with TLS", cfg.MQTT)
	}
	if cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT.QoS = %d, want 0", cfg.MQTT.QoS)
	}
	if cfg.MQTT.TopicPrefix != "fairyctl" {
		t.Errorf("MQTT.TopicPrefix = %q, want default %q", cfg.MQTT.TopicPrefix, "fairyctl")
	}
	if cfg.Hotkey.Mode != "hold" || cfg.Hotkey.Lamp != "48:53:52:01:D6:40" {
		t.Errorf("Hotkey = %+v", cfg.Hotkey)
	}
	if len(cfg.Hotkey.Keys) != 2 || cfg.Hotkey.Keys[0] != "alt" || cfg.Hotkey.Keys[1] != "l" {
		t.Errorf("Hotkey.Keys = %v, want [alt l]", cfg.Hotkey.Keys)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("LogLevel, LogFormat = %q, %q", cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("lamp:\n  pair_delay: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should reject an unparseable duration")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("LoadOrDefault() should return defaults, got MQTT.Port = %d", cfg.MQTT.Port)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("lamps: {"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadOrDefault(bad); err == nil {
		t.Error("LoadOrDefault() should still report parse errors")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "lamp without address",
			modify:  func(c *Config) { c.Lamps = []LampEntry{{Name: "desk"}} },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.BLE.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero max attempts",
			modify:  func(c *Config) { c.BLE.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative pair delay",
			modify:  func(c *Config) { c.Lamp.PairDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero pair delay allowed",
			modify:  func(c *Config) { c.Lamp.PairDelay = 0 },
			wantErr: false,
		},
		{
			name:    "empty mqtt host",
			modify:  func(c *Config) { c.MQTT.Host = "" },
			wantErr: true,
		},
		{
			name:    "mqtt port out of range",
			modify:  func(c *Config) { c.MQTT.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "wildcard in topic prefix",
			modify:  func(c *Config) { c.MQTT.TopicPrefix = "lamps/#" },
			wantErr: true,
		},
		{
			name:    "invalid hotkey mode",
			modify:  func(c *Config) { c.Hotkey.Mode = "invalid" },
			wantErr: true,
		},
		{
			name:    "empty hotkey keys",
			modify:  func(c *Config) { c.Hotkey.Keys = nil },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "fairyctl", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# fairyctl") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Lamp.PairDelay != 300*time.Millisecond {
		t.Errorf("written config Lamp.PairDelay = %v, want 300ms", cfg.Lamp.PairDelay)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("written config MQTT.Port = %d, want 1883", cfg.MQTT.Port)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "fairyctl")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestFindLamp(t *testing.T) {
	cfg := Default()
	cfg.Lamps = []LampEntry{{Name: "desk", Address: "F8:24:41:E6:3E:39"}}

	l, ok := cfg.FindLamp("f8:24:41:e6:3e:39")
	if !ok || l.Name != "desk" {
		t.Errorf("FindLamp() = %+v, %v, want desk", l, ok)
	}
	if _, ok := cfg.FindLamp("00:00:00:00:00:00"); ok {
		t.Error("FindLamp() found an unknown address")
	}
}
