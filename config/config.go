// Package config loads aarctl settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the complete aarctl configuration.
type Config struct {
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Device    DeviceConfig    `yaml:"device"`
	Send      SendConfig      `yaml:"send"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// BluetoothConfig selects the local controller and discovery timing.
type BluetoothConfig struct {
	Adapter           string `yaml:"adapter"`
	ScanTimeoutSec    int    `yaml:"scanTimeoutSec"`
	ConnectTimeoutSec int    `yaml:"connectTimeoutSec"`
}

// DeviceConfig narrows which micro:bit is chosen. By default any device
// advertising the UART service qualifies.
type DeviceConfig struct {
	NamePrefix string `yaml:"namePrefix"`
	Address    string `yaml:"address"`
}

// SendConfig controls the outbound frame queue.
type SendConfig struct {
	SpacingMs int `yaml:"spacingMs"`
}

// LogConfig controls zap output and optional file rotation.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMb"`
	MaxBackups  int    `yaml:"maxBackups"`
	MaxAgeDays  int    `yaml:"maxAgeDays"`
}

// HTTPConfig controls the control API. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func (b BluetoothConfig) ScanTimeout() time.Duration {
	return time.Duration(b.ScanTimeoutSec) * time.Second
}

func (b BluetoothConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSec) * time.Second
}

func (s SendConfig) Spacing() time.Duration {
	return time.Duration(s.SpacingMs) * time.Millisecond
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $AARCTL_CONFIG when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AARCTL_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bluetooth: BluetoothConfig{
			Adapter:           "hci0",
			ScanTimeoutSec:    30,
			ConnectTimeoutSec: 20,
		},
		Send: SendConfig{
			SpacingMs: 50,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8095",
		},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("AARCTL_ADAPTER"); v != "" {
		cfg.Bluetooth.Adapter = v
	}
	if v := os.Getenv("AARCTL_DEVICE_ADDRESS"); v != "" {
		cfg.Device.Address = v
	}
	if v, ok := os.LookupEnv("AARCTL_DEVICE_NAME"); ok {
		cfg.Device.NamePrefix = v
	}
	if v := os.Getenv("AARCTL_SEND_SPACING_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: AARCTL_SEND_SPACING_MS: %w", err)
		}
		cfg.Send.SpacingMs = ms
	}
	if v := os.Getenv("AARCTL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv("AARCTL_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	return nil
}
