// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package config loads engine configuration via Koanf v2 with layered
// sources (highest priority wins): environment variables, optional
// YAML config file, built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/switchyardhq/switchyard/internal/database"
	"github.com/switchyardhq/switchyard/internal/validation"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/switchyard/config.yaml",
	"/etc/switchyard/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "SWITCHYARD_CONFIG"

// envPrefix namespaces all engine environment variables.
const envPrefix = "SWITCHYARD_"

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `koanf:"rate_limit" validate:"gte=0"`
	// CORSOrigins lists allowed origins; empty rejects cross-origin calls.
	CORSOrigins []string `koanf:"cors_origins"`
}

// RouterConfig holds traffic router settings.
type RouterConfig struct {
	// SlotCacheTTL bounds how stale cached slot metadata may be.
	SlotCacheTTL time.Duration `koanf:"slot_cache_ttl"`
	// SessionTTL bounds how long sticky-session affinity holds.
	SessionTTL time.Duration `koanf:"session_ttl"`
	// SessionCapacity bounds the sticky-session LRU.
	SessionCapacity int `koanf:"session_capacity" validate:"gt=0"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
	// Endpoint is the probe path appended to the slot backend URL.
	Endpoint string `koanf:"endpoint" validate:"required,startswith=/"`
	// UnhealthyThreshold is consecutive failures before a slot turns unhealthy.
	UnhealthyThreshold int `koanf:"unhealthy_threshold" validate:"gt=0"`
	// HealthyThreshold is consecutive successes before it turns healthy again.
	HealthyThreshold int `koanf:"healthy_threshold" validate:"gt=0"`
}

// AlertingConfig holds alert engine settings.
type AlertingConfig struct {
	EvaluationInterval time.Duration `koanf:"evaluation_interval"`
	// Window is the metrics lookback used when evaluating conditions.
	Window time.Duration `koanf:"window"`
	// DefaultCooldown applies to rules without an explicit cooldown.
	DefaultCooldown time.Duration `koanf:"default_cooldown"`
}

// CollectorConfig holds metrics collector settings.
type CollectorConfig struct {
	FlushInterval time.Duration `koanf:"flush_interval"`
	// MaxBufferSize is the per-buffer sample ceiling that forces a flush.
	MaxBufferSize int `koanf:"max_buffer_size" validate:"gt=0"`
	// RetentionDays is how long aggregate rows are kept.
	RetentionDays int `koanf:"retention_days" validate:"gt=0"`
	// RetentionInterval is how often the retention sweep runs.
	RetentionInterval time.Duration `koanf:"retention_interval"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	HTTPTimeout time.Duration `koanf:"http_timeout"`
	// RatePerSecond caps outbound notification sends; 0 means unlimited.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gte=0"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  database.Config `koanf:"database"`
	Router    RouterConfig    `koanf:"router"`
	Health    HealthConfig    `koanf:"health"`
	Alerting  AlertingConfig  `koanf:"alerting"`
	Collector CollectorConfig `koanf:"collector"`
	Notify    NotifyConfig    `koanf:"notify"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8490",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       300,
		},
		Database: database.Config{
			Path:      "/data/switchyard.db",
			MaxMemory: "1GB",
		},
		Router: RouterConfig{
			SlotCacheTTL:    10 * time.Second,
			SessionTTL:      5 * time.Minute,
			SessionCapacity: 50000,
		},
		Health: HealthConfig{
			Interval:           30 * time.Second,
			Timeout:            10 * time.Second,
			Endpoint:           "/healthz",
			UnhealthyThreshold: 3,
			HealthyThreshold:   2,
		},
		Alerting: AlertingConfig{
			EvaluationInterval: time.Minute,
			Window:             5 * time.Minute,
			DefaultCooldown:    5 * time.Minute,
		},
		Collector: CollectorConfig{
			FlushInterval:     time.Minute,
			MaxBufferSize:     10000,
			RetentionDays:     90,
			RetentionInterval: 24 * time.Hour,
		},
		Notify: NotifyConfig{
			HTTPTimeout:   10 * time.Second,
			RatePerSecond: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with layered sources: defaults, then an
// optional YAML file, then SWITCHYARD_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// SWITCHYARD_HEALTH_INTERVAL -> health.interval
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, honoring
// the SWITCHYARD_CONFIG override.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks struct tags plus the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}
	if c.Health.HealthyThreshold > c.Health.UnhealthyThreshold {
		return fmt.Errorf("health.healthy_threshold (%d) must not exceed health.unhealthy_threshold (%d)",
			c.Health.HealthyThreshold, c.Health.UnhealthyThreshold)
	}
	if c.Health.Timeout >= c.Health.Interval {
		return fmt.Errorf("health.timeout (%s) must be shorter than health.interval (%s)",
			c.Health.Timeout, c.Health.Interval)
	}
	return nil
}
