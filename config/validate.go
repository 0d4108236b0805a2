package config

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/mikoaf/microbit-aar/bluetooth"
)

// Validate checks value ranges and formats.
func Validate(cfg *Config) error {
	if cfg.Bluetooth.Adapter == "" {
		return fmt.Errorf("bluetooth.adapter must not be empty")
	}
	if cfg.Bluetooth.ScanTimeoutSec <= 0 || cfg.Bluetooth.ScanTimeoutSec > 600 {
		return fmt.Errorf("bluetooth.scanTimeoutSec %d is outside [1, 600]", cfg.Bluetooth.ScanTimeoutSec)
	}
	if cfg.Bluetooth.ConnectTimeoutSec <= 0 || cfg.Bluetooth.ConnectTimeoutSec > 120 {
		return fmt.Errorf("bluetooth.connectTimeoutSec %d is outside [1, 120]", cfg.Bluetooth.ConnectTimeoutSec)
	}
	if cfg.Device.Address != "" {
		if _, err := bluetooth.ParseAddress(cfg.Device.Address); err != nil {
			return fmt.Errorf("device.address %q: %w", cfg.Device.Address, err)
		}
	}
	if cfg.Send.SpacingMs < 1 || cfg.Send.SpacingMs > 5000 {
		return fmt.Errorf("send.spacingMs %d is outside [1, 5000]", cfg.Send.SpacingMs)
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.maxSizeMb must be positive when log.file is set")
	}
	return nil
}
