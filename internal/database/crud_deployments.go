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

	"github.com/google/uuid"

	"github.com/switchyardhq/switchyard/internal/models"
)

// ValidateDeploymentID checks that id is a well-formed UUID. Every
// lookup path validates before touching storage.
func ValidateDeploymentID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDeploymentID, id)
	}
	return nil
}

// CreateDeployment inserts a deployment and its two slots in one
// transaction. The blue slot starts with 100% traffic, green with 0.
func (db *DB) CreateDeployment(ctx context.Context, d *models.Deployment, version, frontendURL, backendURL string) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	} else if err := ValidateDeploymentID(d.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = models.DeploymentStatusPending
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO deployments (id, package_ref, current_version, status, active_installs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PackageRef, d.CurrentVersion, d.Status, d.ActiveInstalls, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}

	for _, slot := range []struct {
		name    models.SlotName
		percent int
		status  models.SlotStatus
	}{
		{models.SlotBlue, 100, models.SlotStatusActive},
		{models.SlotGreen, 0, models.SlotStatusInactive},
	} {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO slots (deployment_id, name, status, traffic_percent, version, frontend_url, backend_url, health, failure_count, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 'unknown', 0, ?)`,
			d.ID, slot.name, slot.status, slot.percent, version, frontendURL, backendURL, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s slot: %w", slot.name, err)
		}
	}

	return tx.Commit()
}

// GetDeployment fetches a deployment by id.
func (db *DB) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	if err := ValidateDeploymentID(id); err != nil {
		return nil, err
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT id, package_ref, current_version, status, active_installs, created_at, updated_at
		 FROM deployments WHERE id = ?`, id)

	var d models.Deployment
	err := row.Scan(&d.ID, &d.PackageRef, &d.CurrentVersion, &d.Status, &d.ActiveInstalls, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment: %w", err)
	}
	return &d, nil
}

// ListDeployments returns all deployments ordered by creation time.
func (db *DB) ListDeployments(ctx context.Context) ([]models.Deployment, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, package_ref, current_version, status, active_installs, created_at, updated_at
		 FROM deployments ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer closeWithLog(rows, "deployments rows")

	var out []models.Deployment
	for rows.Next() {
		var d models.Deployment
		if err := rows.Scan(&d.ID, &d.PackageRef, &d.CurrentVersion, &d.Status, &d.ActiveInstalls, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDeploymentStatus sets the overall deployment status.
func (db *DB) UpdateDeploymentStatus(ctx context.Context, id string, status models.DeploymentStatus) error {
	if err := ValidateDeploymentID(id); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE deployments SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	return nil
}
