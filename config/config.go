// Package config loads the server configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Health    HealthConfig    `yaml:"health"`
	Push      PushConfig      `yaml:"push"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Etcd      EtcdConfig      `yaml:"etcd"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the request listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// AdvertiseAddr is the address published to the server list when
	// etcd registration is enabled. Defaults to Listen.
	AdvertiseAddr string `yaml:"advertise_addr"`
}

// HealthConfig controls the liveness sweeper.
type HealthConfig struct {
	UnhealthyTimeout time.Duration `yaml:"unhealthy_timeout"`
	ExpireTimeout    time.Duration `yaml:"expire_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// PushConfig controls subscriber notifications.
type PushConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig throttles inbound requests per server.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// EtcdConfig controls server-list publication.
type EtcdConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoints []string      `yaml:"endpoints"`
	Prefix    string        `yaml:"prefix"`
	LeaseTTL  time.Duration `yaml:"lease_ttl"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8848"
	}
	if c.Server.AdvertiseAddr == "" {
		c.Server.AdvertiseAddr = c.Server.Listen
	}
	if c.Health.UnhealthyTimeout <= 0 {
		c.Health.UnhealthyTimeout = 15 * time.Second
	}
	if c.Health.ExpireTimeout <= 0 {
		c.Health.ExpireTimeout = 30 * time.Second
	}
	if c.Health.SweepInterval <= 0 {
		c.Health.SweepInterval = 5 * time.Second
	}
	if c.Push.Timeout <= 0 {
		c.Push.Timeout = 3 * time.Second
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 1000
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 2000
	}
	if c.Etcd.Prefix == "" {
		c.Etcd.Prefix = "/nacos/servers"
	}
	if c.Etcd.LeaseTTL <= 0 {
		c.Etcd.LeaseTTL = 10 * time.Second
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Health.UnhealthyTimeout >= c.Health.ExpireTimeout {
		return fmt.Errorf("health.unhealthy_timeout (%s) must be below health.expire_timeout (%s)",
			c.Health.UnhealthyTimeout, c.Health.ExpireTimeout)
	}
	if c.Etcd.Enabled && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd.enabled requires at least one endpoint")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
