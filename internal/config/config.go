// Package config loads tool configuration: a YAML file layered over
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds scanlink tool configuration.
type Config struct {
	// Driver selects which scanner driver to open.
	Driver string `yaml:"driver" default:"sim"`

	// DeviceAddress is handed to the driver verbatim; its format is
	// driver-specific (the sim driver ignores it).
	DeviceAddress string `yaml:"device_address"`

	// DriverParams carries driver-specific settings, like the sim
	// driver's timing knobs.
	DriverParams map[string]string `yaml:"driver_params"`

	LogLevel string `yaml:"log_level" default:"info"`

	// PairingValiditySeconds is how long a pairing image stays scannable
	// before the countdown reaches zero.
	PairingValiditySeconds int `yaml:"pairing_validity_seconds" default:"60"`

	EventLogCap   int `yaml:"event_log_cap" default:"500"`
	BarcodeLogCap int `yaml:"barcode_log_cap" default:"500"`

	// WedgeSymlink, when set, is where monitor links the barcode PTY.
	WedgeSymlink string `yaml:"wedge_symlink"`

	// HookScript, when set, is a Lua file whose on_scan runs per barcode.
	HookScript string `yaml:"hook_script"`
}

// Default returns the built-in configuration values.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads YAML configuration from path layered over the defaults. A
// missing file is not an error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise only fail deep inside a
// running session.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("driver must not be empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.PairingValiditySeconds <= 0 {
		return fmt.Errorf("pairing_validity_seconds must be positive, got %d", c.PairingValiditySeconds)
	}
	return nil
}

// PairingValidity returns the pairing image validity as a duration.
func (c *Config) PairingValidity() time.Duration {
	return time.Duration(c.PairingValiditySeconds) * time.Second
}

// Level returns the parsed log level; unknown levels fall back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
