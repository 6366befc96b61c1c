// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package database

import (
	"context"
	"fmt"
)

// initSchema creates all tables if they do not exist. All columns are
// defined in the initial CREATE TABLE statements so a fresh database is
// complete after one pass.
func (db *DB) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS deployments (
			id VARCHAR PRIMARY KEY,
			package_ref VARCHAR NOT NULL,
			current_version VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT 'pending',
			active_installs INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS slots (
			deployment_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			status VARCHAR NOT NULL DEFAULT 'inactive',
			traffic_percent INTEGER NOT NULL DEFAULT 0,
			version VARCHAR NOT NULL DEFAULT '',
			frontend_url VARCHAR NOT NULL DEFAULT '',
			backend_url VARCHAR NOT NULL DEFAULT '',
			health VARCHAR NOT NULL DEFAULT 'unknown',
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_health_check TIMESTAMP,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (deployment_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id VARCHAR PRIMARY KEY,
			deployment_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			metric VARCHAR NOT NULL,
			operator VARCHAR NOT NULL,
			threshold DOUBLE NOT NULL,
			duration_seconds INTEGER NOT NULL,
			severity VARCHAR NOT NULL DEFAULT 'warning',
			channels VARCHAR NOT NULL DEFAULT '[]',
			cooldown_seconds INTEGER NOT NULL DEFAULT 300,
			auto_rollback BOOLEAN NOT NULL DEFAULT FALSE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_triggered_at TIMESTAMP,
			trigger_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE SEQUENCE IF NOT EXISTS seq_metric_row_id START 1`,

		`CREATE TABLE IF NOT EXISTS deployment_metrics (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_metric_row_id'),
			deployment_id VARCHAR NOT NULL,
			slot VARCHAR NOT NULL,
			period_start TIMESTAMP NOT NULL,
			period_end TIMESTAMP NOT NULL,
			request_count BIGINT NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			latency_p50 DOUBLE NOT NULL DEFAULT 0,
			latency_p95 DOUBLE NOT NULL DEFAULT 0,
			latency_p99 DOUBLE NOT NULL DEFAULT 0,
			latency_avg DOUBLE NOT NULL DEFAULT 0,
			active_users INTEGER NOT NULL DEFAULT 0,
			sessions INTEGER NOT NULL DEFAULT 0,
			cpu_usage DOUBLE,
			memory_usage DOUBLE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_metrics_deployment_period
			ON deployment_metrics (deployment_id, period_start)`,

		`CREATE SEQUENCE IF NOT EXISTS seq_audit_event_id START 1`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_audit_event_id'),
			event_type VARCHAR NOT NULL,
			severity VARCHAR NOT NULL DEFAULT 'info',
			deployment_id VARCHAR,
			actor VARCHAR NOT NULL DEFAULT '',
			action VARCHAR NOT NULL DEFAULT '',
			details VARCHAR NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_audit_deployment
			ON audit_events (deployment_id, created_at)`,
	}

	for _, q := range queries {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}
