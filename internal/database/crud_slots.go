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

	"github.com/switchyardhq/switchyard/internal/models"
)

const slotColumns = `deployment_id, name, status, traffic_percent, version,
	frontend_url, backend_url, health, failure_count, last_health_check, updated_at`

func scanSlot(scanner interface{ Scan(...interface{}) error }) (*models.Slot, error) {
	var s models.Slot
	var lastCheck sql.NullTime
	err := scanner.Scan(&s.DeploymentID, &s.Name, &s.Status, &s.TrafficPercent, &s.Version,
		&s.FrontendURL, &s.BackendURL, &s.Health, &s.FailureCount, &lastCheck, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastCheck.Valid {
		t := lastCheck.Time
		s.LastHealthCheck = &t
	}
	return &s, nil
}

// GetSlots returns both slots of a deployment, blue first.
func (db *DB) GetSlots(ctx context.Context, deploymentID string) ([]models.Slot, error) {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE deployment_id = ? ORDER BY name`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer closeWithLog(rows, "slots rows")

	var out []models.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, deploymentID)
	}
	return out, nil
}

// GetSlot returns one named slot of a deployment.
func (db *DB) GetSlot(ctx context.Context, deploymentID string, name models.SlotName) (*models.Slot, error) {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return nil, err
	}
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %s/%s", ErrSlotNotFound, deploymentID, name)
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE deployment_id = ? AND name = ?`, deploymentID, name)

	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrSlotNotFound, deploymentID, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query slot: %w", err)
	}
	return s, nil
}

// UpdateTrafficSplit writes both slots' traffic percentages in a single
// transaction. The pair is validated before any write: each value must
// be in [0,100] and the two must sum to exactly 100, so no observer
// ever sees weights that do not sum to 100.
func (db *DB) UpdateTrafficSplit(ctx context.Context, deploymentID string, bluePercent, greenPercent int) error {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return err
	}
	if err := ValidateTrafficSplit(bluePercent, greenPercent); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, upd := range []struct {
		name    models.SlotName
		percent int
	}{
		{models.SlotBlue, bluePercent},
		{models.SlotGreen, greenPercent},
	} {
		res, err := tx.ExecContext(ctx,
			`UPDATE slots SET traffic_percent = ?, updated_at = ? WHERE deployment_id = ? AND name = ?`,
			upd.percent, now, deploymentID, upd.name)
		if err != nil {
			return fmt.Errorf("failed to update %s slot weight: %w", upd.name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s/%s", ErrSlotNotFound, deploymentID, upd.name)
		}
	}

	return tx.Commit()
}

// ValidateTrafficSplit rejects weight pairs outside [0,100] or not
// summing to exactly 100.
func ValidateTrafficSplit(bluePercent, greenPercent int) error {
	if bluePercent < 0 || bluePercent > 100 || greenPercent < 0 || greenPercent > 100 {
		return fmt.Errorf("%w: got blue=%d green=%d", ErrInvalidTrafficSplit, bluePercent, greenPercent)
	}
	if bluePercent+greenPercent != 100 {
		return fmt.Errorf("%w: got blue=%d green=%d", ErrInvalidTrafficSplit, bluePercent, greenPercent)
	}
	return nil
}

// UpdateSlotStatus sets the lifecycle status of one slot.
func (db *DB) UpdateSlotStatus(ctx context.Context, deploymentID string, name models.SlotName, status models.SlotStatus) error {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE slots SET status = ?, updated_at = ? WHERE deployment_id = ? AND name = ?`,
		status, time.Now().UTC(), deploymentID, name)
	if err != nil {
		return fmt.Errorf("failed to update slot status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrSlotNotFound, deploymentID, name)
	}
	return nil
}

// UpdateSlotHealth persists the probed health state of one slot.
func (db *DB) UpdateSlotHealth(ctx context.Context, deploymentID string, name models.SlotName, health models.HealthState, failureCount int, checkedAt time.Time) error {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE slots SET health = ?, failure_count = ?, last_health_check = ?, updated_at = ?
		 WHERE deployment_id = ? AND name = ?`,
		health, failureCount, checkedAt.UTC(), time.Now().UTC(), deploymentID, name)
	if err != nil {
		return fmt.Errorf("failed to update slot health: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrSlotNotFound, deploymentID, name)
	}
	return nil
}

// RollbackTraffic atomically moves all traffic away from the failing
// slot: failing slot to 0% and draining, sibling to 100%. Both rows
// change in one transaction.
func (db *DB) RollbackTraffic(ctx context.Context, deploymentID string, failing models.SlotName) error {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET traffic_percent = 0, status = ?, updated_at = ? WHERE deployment_id = ? AND name = ?`,
		models.SlotStatusDraining, now, deploymentID, failing)
	if err != nil {
		return fmt.Errorf("failed to drain failing slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrSlotNotFound, deploymentID, failing)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE slots SET traffic_percent = 100, status = ?, updated_at = ? WHERE deployment_id = ? AND name = ?`,
		models.SlotStatusActive, now, deploymentID, failing.Sibling())
	if err != nil {
		return fmt.Errorf("failed to promote sibling slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrSlotNotFound, deploymentID, failing.Sibling())
	}

	return tx.Commit()
}
