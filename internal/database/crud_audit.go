// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/switchyardhq/switchyard/internal/audit"
)

// InsertAuditEvent persists one audit trail entry.
func (db *DB) InsertAuditEvent(ctx context.Context, ev *audit.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Details == "" {
		ev.Details = "{}"
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, severity, deployment_id, actor, action, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Type, ev.Severity, ev.DeploymentID, ev.Actor, ev.Action, ev.Details, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent audit entries for a
// deployment, newest first.
func (db *DB) ListAuditEvents(ctx context.Context, deploymentID string, limit int) ([]audit.Event, error) {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT event_type, severity, deployment_id, actor, action, details, created_at
		 FROM audit_events WHERE deployment_id = ? ORDER BY created_at DESC LIMIT ?`,
		deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer closeWithLog(rows, "audit rows")

	var out []audit.Event
	for rows.Next() {
		var ev audit.Event
		if err := rows.Scan(&ev.Type, &ev.Severity, &ev.DeploymentID, &ev.Actor, &ev.Action, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
