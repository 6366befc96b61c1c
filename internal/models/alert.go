// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package models

import "time"

// AlertMetric names the measurement an alert rule evaluates.
type AlertMetric string

const (
	MetricErrorRate   AlertMetric = "error_rate"
	MetricLatencyP99  AlertMetric = "latency_p99"
	MetricLatencyP95  AlertMetric = "latency_p95"
	MetricLatencyAvg  AlertMetric = "latency_avg"
	MetricHealthCheck AlertMetric = "health_check"
	MetricCPUUsage    AlertMetric = "cpu_usage"
	MetricMemoryUsage AlertMetric = "memory_usage"
)

// Valid reports whether the metric is a known alertable measurement.
func (m AlertMetric) Valid() bool {
	switch m {
	case MetricErrorRate, MetricLatencyP99, MetricLatencyP95, MetricLatencyAvg,
		MetricHealthCheck, MetricCPUUsage, MetricMemoryUsage:
		return true
	}
	return false
}

// AlertOperator is the comparison applied between metric value and threshold.
type AlertOperator string

const (
	OperatorGT  AlertOperator = "gt"
	OperatorGTE AlertOperator = "gte"
	OperatorLT  AlertOperator = "lt"
	OperatorLTE AlertOperator = "lte"
	OperatorEQ  AlertOperator = "eq"
)

// Valid reports whether the operator is a known comparison.
func (o AlertOperator) Valid() bool {
	switch o {
	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE, OperatorEQ:
		return true
	}
	return false
}

// Compare applies the operator to (value, threshold).
func (o AlertOperator) Compare(value, threshold float64) bool {
	switch o {
	case OperatorGT:
		return value > threshold
	case OperatorGTE:
		return value >= threshold
	case OperatorLT:
		return value < threshold
	case OperatorLTE:
		return value <= threshold
	case OperatorEQ:
		return value == threshold
	}
	return false
}

// AlertSeverity classifies how urgent a triggered alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// ChannelType identifies a notification delivery mechanism.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelEmail   ChannelType = "email"
)

// NotificationChannel is one configured delivery target of an alert.
type NotificationChannel struct {
	Type ChannelType `json:"type"`
	// Target is the webhook URL or email address depending on Type.
	Target string `json:"target"`
	// Headers are extra HTTP headers sent with webhook deliveries.
	Headers map[string]string `json:"headers,omitempty"`
}

// DefaultCooldownSeconds is the minimum gap between two firings of the
// same alert when the rule does not specify one.
const DefaultCooldownSeconds = 300

// Alert is a user-defined threshold rule evaluated against aggregated
// metrics over a sliding window. The engine mutates only the trigger
// bookkeeping fields (LastTriggeredAt, TriggerCount).
type Alert struct {
	ID              string                `json:"id"`
	DeploymentID    string                `json:"deployment_id"`
	Name            string                `json:"name"`
	Metric          AlertMetric           `json:"metric"`
	Operator        AlertOperator         `json:"operator"`
	Threshold       float64               `json:"threshold"`
	DurationSeconds int                   `json:"duration_seconds"`
	Severity        AlertSeverity         `json:"severity"`
	Channels        []NotificationChannel `json:"channels"`
	CooldownSeconds int                   `json:"cooldown_seconds"`
	AutoRollback    bool                  `json:"auto_rollback"`
	Enabled         bool                  `json:"enabled"`
	LastTriggeredAt *time.Time            `json:"last_triggered_at,omitempty"`
	TriggerCount    int                   `json:"trigger_count"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Cooldown returns the effective cooldown duration.
func (a *Alert) Cooldown() time.Duration {
	secs := a.CooldownSeconds
	if secs <= 0 {
		secs = DefaultCooldownSeconds
	}
	return time.Duration(secs) * time.Second
}

// AlertEvent is the payload delivered to notification channels and
// callbacks when an alert fires or resolves.
type AlertEvent struct {
	AlertID      string        `json:"alert_id"`
	AlertName    string        `json:"alert_name"`
	DeploymentID string        `json:"deployment_id"`
	Metric       AlertMetric   `json:"metric"`
	Operator     AlertOperator `json:"operator"`
	Threshold    float64       `json:"threshold"`
	Value        float64       `json:"value"`
	Severity     AlertSeverity `json:"severity"`
	Resolved     bool          `json:"resolved"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// AlertStats summarizes the configured alert rules.
type AlertStats struct {
	Total      int                   `json:"total"`
	Enabled    int                   `json:"enabled"`
	Triggered  int                   `json:"triggered"`
	BySeverity map[AlertSeverity]int `json:"by_severity"`
}
