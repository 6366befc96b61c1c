// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package models

import "time"

// MetricRow is one persisted aggregate of request samples for a
// deployment slot over a single flush period. Raw latency samples are
// discarded after the row is written; later reads aggregate rows.
type MetricRow struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Slot         SlotName  `json:"slot"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	LatencyP50   float64   `json:"latency_p50"`
	LatencyP95   float64   `json:"latency_p95"`
	LatencyP99   float64   `json:"latency_p99"`
	LatencyAvg   float64   `json:"latency_avg"`
	ActiveUsers  int       `json:"active_users"`
	Sessions     int       `json:"sessions"`
	// Resource usage readings are optional; nil means no reading this period.
	CPUUsage    *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage *float64 `json:"memory_usage,omitempty"`
}

// AggregatedMetrics is the read-model computed on demand from MetricRows
// over a caller-supplied time range.
type AggregatedMetrics struct {
	DeploymentID string    `json:"deployment_id"`
	Slot         SlotName  `json:"slot,omitempty"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	// ErrorRate is errors/requests in [0,1]; 0 when no requests.
	ErrorRate   float64  `json:"error_rate"`
	LatencyP50  float64  `json:"latency_p50"`
	LatencyP95  float64  `json:"latency_p95"`
	LatencyP99  float64  `json:"latency_p99"`
	LatencyAvg  float64  `json:"latency_avg"`
	ActiveUsers int      `json:"active_users"`
	Sessions    int      `json:"sessions"`
	CPUUsage    *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage *float64 `json:"memory_usage,omitempty"`
}

// TimeSeriesBucket is one fixed-width window of aggregated metrics,
// used for charting.
type TimeSeriesBucket struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	ErrorRate    float64   `json:"error_rate"`
	LatencyP95   float64   `json:"latency_p95"`
	LatencyAvg   float64   `json:"latency_avg"`
}

// RequestSample is one observed request outcome recorded on the hot path.
type RequestSample struct {
	DeploymentID string
	Slot         SlotName
	LatencyMS    float64
	IsError      bool
	UserID       string
	SessionID    string
}
