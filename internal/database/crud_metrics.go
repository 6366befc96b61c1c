// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/switchyardhq/switchyard/internal/models"
)

// InsertMetricRow persists one flushed aggregate row.
func (db *DB) InsertMetricRow(ctx context.Context, row *models.MetricRow) error {
	if err := ValidateDeploymentID(row.DeploymentID); err != nil {
		return err
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO deployment_metrics (deployment_id, slot, period_start, period_end,
			request_count, error_count, latency_p50, latency_p95, latency_p99, latency_avg,
			active_users, sessions, cpu_usage, memory_usage)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.DeploymentID, row.Slot, row.PeriodStart.UTC(), row.PeriodEnd.UTC(),
		row.RequestCount, row.ErrorCount, row.LatencyP50, row.LatencyP95, row.LatencyP99, row.LatencyAvg,
		row.ActiveUsers, row.Sessions, row.CPUUsage, row.MemoryUsage)
	if err != nil {
		return fmt.Errorf("failed to insert metric row: %w", err)
	}
	return nil
}

// QueryMetricRows returns stored aggregate rows for a deployment in
// [from, to), oldest first. An empty slot matches both slots.
func (db *DB) QueryMetricRows(ctx context.Context, deploymentID string, from, to time.Time, slot models.SlotName) ([]models.MetricRow, error) {
	if err := ValidateDeploymentID(deploymentID); err != nil {
		return nil, err
	}

	query := `SELECT id, deployment_id, slot, period_start, period_end,
		request_count, error_count, latency_p50, latency_p95, latency_p99, latency_avg,
		active_users, sessions, cpu_usage, memory_usage
	 FROM deployment_metrics
	 WHERE deployment_id = ? AND period_start >= ? AND period_start < ?`
	args := []interface{}{deploymentID, from.UTC(), to.UTC()}
	if slot != "" {
		query += ` AND slot = ?`
		args = append(args, slot)
	}
	query += ` ORDER BY period_start`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric rows: %w", err)
	}
	defer closeWithLog(rows, "metric rows")

	var out []models.MetricRow
	for rows.Next() {
		var r models.MetricRow
		var cpu, mem sql.NullFloat64
		err := rows.Scan(&r.ID, &r.DeploymentID, &r.Slot, &r.PeriodStart, &r.PeriodEnd,
			&r.RequestCount, &r.ErrorCount, &r.LatencyP50, &r.LatencyP95, &r.LatencyP99, &r.LatencyAvg,
			&r.ActiveUsers, &r.Sessions, &cpu, &mem)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}
		if cpu.Valid {
			v := cpu.Float64
			r.CPUUsage = &v
		}
		if mem.Valid {
			v := mem.Float64
			r.MemoryUsage = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteMetricRowsBefore removes aggregate rows older than the cutoff
// and returns how many were deleted. Drives the retention routine.
func (db *DB) DeleteMetricRowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM deployment_metrics WHERE period_end < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired metric rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // row count is informational
	}
	return n, nil
}
