package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the structure of the configuration file.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"` // Address for the device directory HTTP API
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"` // zerolog level: trace, debug, info, warn, error
	} `yaml:"log"`

	Bus struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
		Username      string `yaml:"username"`       // Optional broker username
		Password      string `yaml:"password"`       // Optional broker password
		CACertificate string `yaml:"ca_certificate"` // Optional path to the broker CA certificate
		QOS           int    `yaml:"qos"`            // MQTT QoS level for subscriptions and publishes
	} `yaml:"bus"`

	Stream struct {
		DialTimeout  time.Duration `yaml:"dial_timeout"`  // Timeout for opening a WebSocket connection
		WriteTimeout time.Duration `yaml:"write_timeout"` // Timeout for one outbound socket write
	} `yaml:"stream"`

	Polling struct {
		FetchTimeout time.Duration `yaml:"fetch_timeout"` // Timeout for one polled HTTP read
	} `yaml:"polling"`

	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"` // Attempts per outbound dispatch
		BaseDelay   time.Duration `yaml:"base_delay"`   // Initial delay between attempts
		MaxDelay    time.Duration `yaml:"max_delay"`    // Cap on the backoff delay
	} `yaml:"retry"`

	Storage struct {
		Driver             string `yaml:"driver"` // "memory" or "postgres"
		DSN                string `yaml:"dsn"`    // Postgres connection string
		MaxPointsPerDevice int    `yaml:"max_points_per_device"`
	} `yaml:"storage"`
}

// LoadConfig loads the YAML configuration from the specified file and fills
// in defaults for anything the file leaves unset.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Stream.DialTimeout == 0 {
		c.Stream.DialTimeout = 10 * time.Second
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = 5 * time.Second
	}
	if c.Polling.FetchTimeout == 0 {
		c.Polling.FetchTimeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 200 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 5 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxPointsPerDevice == 0 {
		c.Storage.MaxPointsPerDevice = 1000
	}
}
