// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
	if cfg.Health.UnhealthyThreshold != 3 || cfg.Health.HealthyThreshold != 2 {
		t.Errorf("expected hysteresis defaults 3/2, got %d/%d",
			cfg.Health.UnhealthyThreshold, cfg.Health.HealthyThreshold)
	}
	if cfg.Collector.MaxBufferSize != 10000 {
		t.Errorf("expected 10000 sample ceiling, got %d", cfg.Collector.MaxBufferSize)
	}
	if cfg.Alerting.DefaultCooldown != 5*time.Minute {
		t.Errorf("expected 5m default cooldown, got %s", cfg.Alerting.DefaultCooldown)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SWITCHYARD_HEALTH_INTERVAL", "45s")
	t.Setenv("SWITCHYARD_SERVER_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Health.Interval != 45*time.Second {
		t.Errorf("expected env-overridden 45s interval, got %s", cfg.Health.Interval)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected env-overridden addr :9999, got %s", cfg.Server.Addr)
	}
}

func TestConfigFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("health:\n  unhealthy_threshold: 5\n  healthy_threshold: 2\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Health.UnhealthyThreshold != 5 {
		t.Errorf("expected file-overridden threshold 5, got %d", cfg.Health.UnhealthyThreshold)
	}
	// Untouched keys keep defaults.
	if cfg.Health.Endpoint != "/healthz" {
		t.Errorf("expected default endpoint, got %s", cfg.Health.Endpoint)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := defaultConfig()
	cfg.Health.HealthyThreshold = 5
	cfg.Health.UnhealthyThreshold = 3
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when healthy threshold exceeds unhealthy threshold")
	}
}

func TestValidateRejectsTimeoutOverInterval(t *testing.T) {
	cfg := defaultConfig()
	cfg.Health.Timeout = time.Minute
	cfg.Health.Interval = 30 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when probe timeout exceeds interval")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown log level")
	}
}
