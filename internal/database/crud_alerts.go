// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/switchyardhq/switchyard/internal/models"
)

const alertColumns = `id, deployment_id, name, metric, operator, threshold, duration_seconds,
	severity, channels, cooldown_seconds, auto_rollback, enabled, last_triggered_at, trigger_count,
	created_at, updated_at`

func scanAlert(scanner interface{ Scan(...interface{}) error }) (*models.Alert, error) {
	var a models.Alert
	var channelsJSON string
	var lastTriggered sql.NullTime
	err := scanner.Scan(&a.ID, &a.DeploymentID, &a.Name, &a.Metric, &a.Operator, &a.Threshold,
		&a.DurationSeconds, &a.Severity, &channelsJSON, &a.CooldownSeconds, &a.AutoRollback,
		&a.Enabled, &lastTriggered, &a.TriggerCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		a.LastTriggeredAt = &t
	}
	if err := json.Unmarshal([]byte(channelsJSON), &a.Channels); err != nil {
		return nil, fmt.Errorf("failed to decode alert channels: %w", err)
	}
	return &a, nil
}

// CreateAlert inserts an alert rule.
func (db *DB) CreateAlert(ctx context.Context, a *models.Alert) error {
	if err := ValidateDeploymentID(a.DeploymentID); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.CooldownSeconds <= 0 {
		a.CooldownSeconds = models.DefaultCooldownSeconds
	}
	if a.Channels == nil {
		a.Channels = []models.NotificationChannel{}
	}

	channelsJSON, err := json.Marshal(a.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode alert channels: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO alerts (id, deployment_id, name, metric, operator, threshold, duration_seconds,
			severity, channels, cooldown_seconds, auto_rollback, enabled, trigger_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		a.ID, a.DeploymentID, a.Name, a.Metric, a.Operator, a.Threshold, a.DurationSeconds,
		a.Severity, string(channelsJSON), a.CooldownSeconds, a.AutoRollback, a.Enabled,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlert fetches an alert by id.
func (db *DB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)

	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return a, nil
}

// ListAlerts returns alert rules, optionally filtered by deployment.
func (db *DB) ListAlerts(ctx context.Context, deploymentID string) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var args []interface{}
	if deploymentID != "" {
		if err := ValidateDeploymentID(deploymentID); err != nil {
			return nil, err
		}
		query += ` WHERE deployment_id = ?`
		args = append(args, deploymentID)
	}
	query += ` ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer closeWithLog(rows, "alerts rows")

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListEnabledAlerts returns all enabled alert rules across deployments.
func (db *DB) ListEnabledAlerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled alerts: %w", err)
	}
	defer closeWithLog(rows, "alerts rows")

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAlert rewrites the user-editable fields of an alert rule.
func (db *DB) UpdateAlert(ctx context.Context, a *models.Alert) error {
	channelsJSON, err := json.Marshal(a.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode alert channels: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE alerts SET name = ?, metric = ?, operator = ?, threshold = ?, duration_seconds = ?,
			severity = ?, channels = ?, cooldown_seconds = ?, auto_rollback = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, a.Metric, a.Operator, a.Threshold, a.DurationSeconds,
		a.Severity, string(channelsJSON), a.CooldownSeconds, a.AutoRollback, a.Enabled,
		time.Now().UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, a.ID)
	}
	return nil
}

// DeleteAlert removes an alert rule.
func (db *DB) DeleteAlert(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return nil
}

// SetAlertEnabled toggles an alert rule on or off.
func (db *DB) SetAlertEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE alerts SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to toggle alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return nil
}

// RecordAlertTrigger stamps the trigger time and increments the counter.
// Only the engine calls this; operators never mutate trigger bookkeeping.
func (db *DB) RecordAlertTrigger(ctx context.Context, id string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE alerts SET last_triggered_at = ?, trigger_count = trigger_count + 1, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record alert trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return nil
}
