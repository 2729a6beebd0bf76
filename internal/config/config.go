// Package config loads HiveBoard's runtime settings (§6.10): a YAML file
// with environment variable overrides, following the teacher's
// gopkg.in/yaml.v3 convention (internal/server/server.go loadNotificationConfig).
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the handful of runtime settings the core reads (§6.10).
type Config struct {
	BindAddr string `yaml:"bind_addr"`
	Port     int    `yaml:"port"`
	DataDir  string `yaml:"data_dir"`

	// Rate limits (§4.1).
	IngestRatePerSecond float64 `yaml:"ingest_rate_per_second"`
	QueryRatePerSecond  float64 `yaml:"query_rate_per_second"`

	// Heartbeat compaction window (§4.8). Loaded but not read: retention
	// uses its fixed HeartbeatCompactionAge.
	HeartbeatCompactionWindow time.Duration `yaml:"heartbeat_compaction_window"`

	// Aggregate retention (§3.3/§4.8), independent of per-tenant event tiers.
	// Loaded but not read: retention uses model.AggregateRetentionWindow.
	AggregateRetentionWindow time.Duration `yaml:"aggregate_retention_window"`

	// Webhook delivery timeout (§4.7/§5). Loaded but not read: the alert
	// engine uses its fixed alerts.WebhookTimeout.
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`

	// Retention loop interval (§4.8 "run daily at a fixed interval").
	RetentionInterval time.Duration `yaml:"retention_interval"`

	// Optional NATS mirror (§1.2).
	NATSURL string `yaml:"nats_url"`

	// JWT signing secret for the login/accept-invite path (§4.1).
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the built-in defaults, matching the magnitudes named in
// spec §4.1/§4.8 (~100 req/s ingest, ~30 req/s query, 90d aggregate
// retention, 5s webhook timeout, daily retention sweep).
func Default() *Config {
	return &Config{
		BindAddr:                  "0.0.0.0",
		Port:                      8080,
		DataDir:                   "./data",
		IngestRatePerSecond:       100,
		QueryRatePerSecond:        30,
		HeartbeatCompactionWindow: 24 * time.Hour,
		AggregateRetentionWindow:  90 * 24 * time.Hour,
		WebhookTimeout:            5 * time.Second,
		RetentionInterval:         24 * time.Hour,
	}
}

// Load reads a YAML config file if present, falling back to defaults for
// fields it doesn't set, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HIVEBOARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("HIVEBOARD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("HIVEBOARD_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("HIVEBOARD_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
}
