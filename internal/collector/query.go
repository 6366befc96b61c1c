// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package collector

import (
	"context"
	"time"

	"github.com/switchyardhq/switchyard/internal/models"
)

// GetMetrics aggregates stored rows for a deployment over [from, to).
// Counts are summed, latency columns are plain means across the rows in
// the window, user and session counts take the peak period, and resource
// usage is the most recent non-null reading. An empty slot spans both
// slots.
func (c *Collector) GetMetrics(ctx context.Context, deploymentID string, from, to time.Time, slot models.SlotName) (*models.AggregatedMetrics, error) {
	rows, err := c.store.QueryMetricRows(ctx, deploymentID, from, to, slot)
	if err != nil {
		return nil, err
	}

	agg := &models.AggregatedMetrics{
		DeploymentID: deploymentID,
		Slot:         slot,
		From:         from,
		To:           to,
	}

	var p50Sum, p95Sum, p99Sum, avgSum float64
	for _, r := range rows {
		agg.RequestCount += r.RequestCount
		agg.ErrorCount += r.ErrorCount
		p50Sum += r.LatencyP50
		p95Sum += r.LatencyP95
		p99Sum += r.LatencyP99
		avgSum += r.LatencyAvg
		if r.ActiveUsers > agg.ActiveUsers {
			agg.ActiveUsers = r.ActiveUsers
		}
		if r.Sessions > agg.Sessions {
			agg.Sessions = r.Sessions
		}
		if r.CPUUsage != nil {
			agg.CPUUsage = r.CPUUsage
		}
		if r.MemoryUsage != nil {
			agg.MemoryUsage = r.MemoryUsage
		}
	}

	if n := float64(len(rows)); n > 0 {
		agg.LatencyP50 = p50Sum / n
		agg.LatencyP95 = p95Sum / n
		agg.LatencyP99 = p99Sum / n
		agg.LatencyAvg = avgSum / n
	}
	if agg.RequestCount > 0 {
		agg.ErrorRate = float64(agg.ErrorCount) / float64(agg.RequestCount)
	}

	return agg, nil
}

// GetTimeSeries partitions [from, to) into fixed-width buckets and
// aggregates stored rows into each by period start. Empty buckets are
// returned with zero values so charts keep a continuous axis.
func (c *Collector) GetTimeSeries(ctx context.Context, deploymentID string, from, to time.Time, width time.Duration, slot models.SlotName) ([]models.TimeSeriesBucket, error) {
	if width <= 0 {
		width = time.Hour
	}

	rows, err := c.store.QueryMetricRows(ctx, deploymentID, from, to, slot)
	if err != nil {
		return nil, err
	}

	n := int(to.Sub(from) / width)
	if to.Sub(from)%width != 0 {
		n++
	}
	if n <= 0 {
		return []models.TimeSeriesBucket{}, nil
	}

	buckets := make([]models.TimeSeriesBucket, n)
	weights := make([]float64, n)
	p95Sums := make([]float64, n)
	avgSums := make([]float64, n)
	for i := range buckets {
		buckets[i].Start = from.Add(time.Duration(i) * width)
		buckets[i].End = buckets[i].Start.Add(width)
	}

	for _, r := range rows {
		i := int(r.PeriodStart.Sub(from) / width)
		if i < 0 || i >= n {
			continue
		}
		buckets[i].RequestCount += r.RequestCount
		buckets[i].ErrorCount += r.ErrorCount
		w := float64(r.RequestCount)
		weights[i] += w
		p95Sums[i] += r.LatencyP95 * w
		avgSums[i] += r.LatencyAvg * w
	}

	for i := range buckets {
		if weights[i] > 0 {
			buckets[i].ErrorRate = float64(buckets[i].ErrorCount) / weights[i]
			buckets[i].LatencyP95 = p95Sums[i] / weights[i]
			buckets[i].LatencyAvg = avgSums[i] / weights[i]
		}
	}

	return buckets, nil
}
