// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/switchyardhq/switchyard/internal/alerting"
	"github.com/switchyardhq/switchyard/internal/cache"
	"github.com/switchyardhq/switchyard/internal/database"
	"github.com/switchyardhq/switchyard/internal/deploy"
	"github.com/switchyardhq/switchyard/internal/health"
	"github.com/switchyardhq/switchyard/internal/models"
	"github.com/switchyardhq/switchyard/internal/router"
)

// DeploymentService is the deployment lifecycle surface the handlers need.
type DeploymentService interface {
	CreateDeployment(ctx context.Context, d *models.Deployment, version, frontendURL, backendURL, actor string) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	ListDeployments(ctx context.Context) ([]models.Deployment, error)
	GetSlots(ctx context.Context, deploymentID string) ([]models.Slot, error)
	UpdateTrafficWeights(ctx context.Context, deploymentID string, bluePercent, greenPercent int, actor string) error
	Rollback(ctx context.Context, deploymentID string, failing models.SlotName, initiatedBy, reason string) error
	PromoteSlot(ctx context.Context, deploymentID string, target models.SlotName, actor string) error
}

// RouteService resolves requests to slots.
type RouteService interface {
	Route(ctx context.Context, deploymentID string, req models.RouteRequest) (*models.RouteDecision, error)
	CacheStats() cache.Stats
}

// HealthService drives per-deployment health monitoring.
type HealthService interface {
	Start(ctx context.Context, deploymentID string) error
	Stop(deploymentID string) error
	IsMonitored(deploymentID string) bool
	Status(deploymentID string) ([]health.SlotCheck, error)
	ForceCheck(ctx context.Context, deploymentID string) ([]health.SlotCheck, error)
}

// AlertService manages alert rules and exposes their firing state.
type AlertService interface {
	CreateRule(ctx context.Context, a *models.Alert, actor string) error
	GetRule(ctx context.Context, id string) (*models.Alert, error)
	ListRules(ctx context.Context, deploymentID string) ([]models.Alert, error)
	UpdateRule(ctx context.Context, a *models.Alert, actor string) error
	DeleteRule(ctx context.Context, id string, actor string) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool, actor string) error
	ListTriggered(ctx context.Context, deploymentID string) ([]models.Alert, error)
	Stats(ctx context.Context) (*models.AlertStats, error)
}

// MetricsService answers aggregate and time-series metric queries.
type MetricsService interface {
	GetMetrics(ctx context.Context, deploymentID string, from, to time.Time, slot models.SlotName) (*models.AggregatedMetrics, error)
	GetTimeSeries(ctx context.Context, deploymentID string, from, to time.Time, width time.Duration, slot models.SlotName) ([]models.TimeSeriesBucket, error)
	PendingSamples() int
}

// Pinger reports store liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the services the HTTP layer dispatches to.
type Handler struct {
	deployments DeploymentService
	routes      RouteService
	monitor     HealthService
	alerts      AlertService
	metrics     MetricsService
	db          Pinger
}

// NewHandler wires the endpoint handlers.
func NewHandler(
	deployments DeploymentService,
	routes RouteService,
	monitor HealthService,
	alerts AlertService,
	metrics MetricsService,
	db Pinger,
) *Handler {
	return &Handler{
		deployments: deployments,
		routes:      routes,
		monitor:     monitor,
		alerts:      alerts,
		metrics:     metrics,
		db:          db,
	}
}

// actor identifies who initiated a mutation, defaulting to "api".
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

// respondError maps domain errors onto HTTP statuses.
func respondError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrInvalidDeploymentID),
		errors.Is(err, database.ErrInvalidTrafficSplit),
		errors.Is(err, alerting.ErrInvalidRule),
		errors.Is(err, router.ErrUnknownSlot):
		rw.BadRequest(err.Error())

	case errors.Is(err, database.ErrDeploymentNotFound),
		errors.Is(err, database.ErrSlotNotFound),
		errors.Is(err, database.ErrAlertNotFound),
		errors.Is(err, router.ErrVersionNotFound),
		errors.Is(err, health.ErrNotMonitored):
		rw.NotFound(err.Error())

	case errors.Is(err, deploy.ErrRollbackInProgress),
		errors.Is(err, deploy.ErrNoHealthySlot):
		rw.Conflict(err.Error())

	case errors.Is(err, router.ErrNoActiveSlot):
		rw.ServiceUnavailable(err.Error())

	default:
		rw.DatabaseError(err)
	}
}

// Healthz is the liveness/readiness probe. Liveness is implicit in
// answering at all; readiness requires a reachable store.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			rw.ServiceUnavailable("store unreachable")
			return
		}
	}
	rw.Success(map[string]string{"status": "ok"})
}

// RouterStats exposes the routing caches.
func (h *Handler) RouterStats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.routes.CacheStats())
}

// CollectorStats exposes the metric buffer backlog.
func (h *Handler) CollectorStats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]int{
		"pending_samples": h.metrics.PendingSamples(),
	})
}
