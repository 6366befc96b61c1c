// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package metrics defines the Prometheus instrumentation for the
// orchestration engine: probe timing, routing decisions, alert
// evaluation, collector flushes, and rollbacks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Health probing
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "health_probe_duration_seconds",
			Help:    "Duration of slot health probes in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"slot"},
	)

	ProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_probe_failures_total",
			Help: "Total number of failed slot health probes",
		},
		[]string{"slot", "reason"}, // "timeout", "status", "body", "request"
	)

	HealthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_health_transitions_total",
			Help: "Total number of slot health state transitions",
		},
		[]string{"slot", "to"}, // "healthy", "unhealthy"
	)

	MonitoredSlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitored_slots",
			Help: "Current number of actively probed deployment slots",
		},
	)

	// Traffic routing
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Total number of routing decisions by selection reason",
		},
		[]string{"reason"},
	)

	RoutingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routing_failures_total",
			Help: "Total number of requests with no routable slot",
		},
	)

	SlotCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slot_cache_hits_total",
			Help: "Total number of slot metadata cache hits",
		},
	)

	SlotCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slot_cache_misses_total",
			Help: "Total number of slot metadata cache misses",
		},
	)

	// Alert evaluation
	AlertEvaluations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_evaluations_total",
			Help: "Total number of alert rule evaluations",
		},
	)

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total number of alert firings",
		},
		[]string{"severity"},
	)

	AlertsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_resolved_total",
			Help: "Total number of alert resolutions",
		},
	)

	NotificationSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sends_total",
			Help: "Total number of notification channel deliveries",
		},
		[]string{"channel", "outcome"}, // outcome: "ok", "error", "breaker_open"
	)

	// Metrics collection
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metric_buffer_flush_duration_seconds",
			Help:    "Duration of metric buffer flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BufferedSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metric_buffered_samples",
			Help: "Current number of unflushed latency samples across all buffers",
		},
	)

	SamplesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metric_samples_dropped_total",
			Help: "Total number of samples dropped because the collector was stopped",
		},
	)

	RetentionDeletes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metric_rows_deleted_total",
			Help: "Total number of aggregate rows removed by retention",
		},
	)

	// Deployment management
	Rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployment_rollbacks_total",
			Help: "Total number of deployment rollbacks",
		},
		[]string{"initiated_by", "outcome"}, // outcome: "ok", "rejected", "error"
	)

	// Circuit breakers guarding notification destinations
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_breaker_state",
			Help: "Circuit breaker state per notification destination (0=closed, 1=half-open, 2=open)",
		},
		[]string{"destination"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Current number of connected event stream clients",
		},
	)
)
