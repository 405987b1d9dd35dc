package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Lamps     []LampEntry  `yaml:"lamps"`
	BLE       BLEConfig    `yaml:"ble"`
	Lamp      LampConfig   `yaml:"lamp"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	Hotkey    HotkeyConfig `yaml:"hotkey"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // "text" or "json"
}

// LampEntry names a known lamp.
type LampEntry struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// BLEConfig holds radio discovery and connection settings.
type BLEConfig struct {
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // per attempt
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// LampConfig holds lamp protocol timing.
type LampConfig struct {
	PairDelay   time.Duration `yaml:"pair_delay"`
	PowerSettle time.Duration `yaml:"power_settle"`
}

// MQTTConfig holds MQTT bridge settings.
type MQTTConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	QoS             byte   `yaml:"qos"`
	TLS             bool   `yaml:"tls"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
	Mode string   `yaml:"mode"` // "hold" or "toggle"
	Lamp string   `yaml:"lamp"` // address; empty means the first configured lamp
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "fairyctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			ScanTimeout:    5 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MaxAttempts:    4,
			BackoffBase:    250 * time.Millisecond,
			BackoffMax:     2 * time.Second,
		},
		Lamp: LampConfig{
			PairDelay:   300 * time.Millisecond,
			PowerSettle: 500 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Host:            "localhost",
			Port:            1883,
			ClientID:        "fairyctl",
			TopicPrefix:     "fairyctl",
			DiscoveryPrefix: "homeassistant",
			QoS:             1,
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "l"},
			Mode: "toggle",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Durations use Go syntax ("300ms", "10s").
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if a file was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	header := "# fairyctl configuration\n# Add lamps with: lamps: [{name: desk, address: \"F8:24:41:E6:3E:39\"}]\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	for i, l := range c.Lamps {
		if strings.TrimSpace(l.Address) == "" {
			return fmt.Errorf("lamps[%d].address must not be empty", i)
		}
	}

	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.MaxAttempts < 1 {
		return fmt.Errorf("ble.max_attempts must be >= 1, got %d", c.BLE.MaxAttempts)
	}
	if c.BLE.BackoffBase < 0 || c.BLE.BackoffMax < 0 {
		return fmt.Errorf("ble.backoff_base and ble.backoff_max must not be negative")
	}
	if c.Lamp.PairDelay < 0 || c.Lamp.PowerSettle < 0 {
		return fmt.Errorf("lamp.pair_delay and lamp.power_settle must not be negative")
	}

	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host must not be empty")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port must be 1-65535, got %d", c.MQTT.Port)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt.topic_prefix must be non-empty and free of wildcards, got %q", c.MQTT.TopicPrefix)
	}
	if c.MQTT.DiscoveryPrefix == "" || strings.ContainsAny(c.MQTT.DiscoveryPrefix, "+#") {
		return fmt.Errorf("mqtt.discovery_prefix must be non-empty and free of wildcards, got %q", c.MQTT.DiscoveryPrefix)
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}
	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// FindLamp returns the configured lamp with address (case-insensitive).
func (c *Config) FindLamp(address string) (LampEntry, bool) {
	for _, l := range c.Lamps {
		if strings.EqualFold(l.Address, address) {
			return l, true
		}
	}
	return LampEntry{}, false
}
