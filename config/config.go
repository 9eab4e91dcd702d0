// Package config loads and validates the service's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/atrbridge/errors"
)

// Duration wraps time.Duration so YAML values like "5s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all service configuration.
type Config struct {
	// BrokerAddress is the broker WebSocket URL, ws://host:port[/path].
	BrokerAddress string `yaml:"broker_address"`

	// ConfidenceThreshold is the minimum detection confidence, in
	// [0,1], for an Entity to be published.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// System identity carried in every published message header.
	SystemUUID        string `yaml:"system_uuid"`
	SystemDescription string `yaml:"system_description"`
	ServiceVersion    string `yaml:"service_version"`

	// Broker connect policy.
	ConnectTimeout    Duration `yaml:"connect_timeout"`
	ConnectAttempts   int      `yaml:"connect_attempts"`
	ConnectRetryDelay Duration `yaml:"connect_retry_delay"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration defaults applied before the file
// is decoded over them.
func Default() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		SystemUUID:          "00000000-0000-0000-0000-000000000000",
		SystemDescription:   "ATR Bridge Service",
		ServiceVersion:      "1.0.0",
		ConnectTimeout:      Duration(10 * time.Second),
		ConnectAttempts:     5,
		ConnectRetryDelay:   Duration(5 * time.Second),
		MetricsAddr:         ":9105",
	}
}

// Load reads the YAML file at path and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.BrokerAddress == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: broker_address", errors.ErrMissingConfig),
			"Config", "Validate", "check broker_address")
	}
	if c.ConfidenceThreshold < 0.0 || c.ConfidenceThreshold > 1.0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: confidence_threshold %v must be between 0.0 and 1.0",
				errors.ErrInvalidConfig, c.ConfidenceThreshold),
			"Config", "Validate", "check confidence_threshold")
	}
	if c.ConnectAttempts < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connect_attempts %d must be at least 1",
				errors.ErrInvalidConfig, c.ConnectAttempts),
			"Config", "Validate", "check connect_attempts")
	}
	if c.ConnectTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connect_timeout must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "check connect_timeout")
	}
	if c.ConnectRetryDelay < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connect_retry_delay must not be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check connect_retry_delay")
	}
	return nil
}
