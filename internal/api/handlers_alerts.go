// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/switchyardhq/switchyard/internal/models"
)

// AlertRuleRequest is the create/update body for an alert rule.
type AlertRuleRequest struct {
	DeploymentID    string                       `json:"deployment_id" validate:"required,uuid4"`
	Name            string                       `json:"name" validate:"required"`
	Metric          string                       `json:"metric" validate:"required,alertmetric"`
	Operator        string                       `json:"operator" validate:"required,alertop"`
	Threshold       float64                      `json:"threshold" validate:"gte=0"`
	DurationSeconds int                          `json:"duration_seconds" validate:"gt=0"`
	Severity        string                       `json:"severity" validate:"omitempty,oneof=info warning critical"`
	Channels        []models.NotificationChannel `json:"channels"`
	CooldownSeconds int                          `json:"cooldown_seconds" validate:"gte=0"`
	AutoRollback    bool                         `json:"auto_rollback"`
	Enabled         *bool                        `json:"enabled"`
}

// toModel builds an Alert from the request, applying defaults for
// omitted fields.
func (req *AlertRuleRequest) toModel(id string) *models.Alert {
	severity := models.AlertSeverity(req.Severity)
	if severity == "" {
		severity = models.SeverityWarning
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &models.Alert{
		ID:              id,
		DeploymentID:    req.DeploymentID,
		Name:            req.Name,
		Metric:          models.AlertMetric(req.Metric),
		Operator:        models.AlertOperator(req.Operator),
		Threshold:       req.Threshold,
		DurationSeconds: req.DurationSeconds,
		Severity:        severity,
		Channels:        req.Channels,
		CooldownSeconds: req.CooldownSeconds,
		AutoRollback:    req.AutoRollback,
		Enabled:         enabled,
	}
}

// CreateAlert creates an alert rule.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req AlertRuleRequest
	if !decodeJSON(rw, r, &req) || !validateRequest(rw, &req) {
		return
	}

	rule := req.toModel(uuid.NewString())
	if err := h.alerts.CreateRule(r.Context(), rule, actor(r)); err != nil {
		respondError(rw, err)
		return
	}

	created, err := h.alerts.GetRule(r.Context(), rule.ID)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Created(created)
}

// ListAlerts returns alert rules, optionally filtered by the
// deployment_id query parameter.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	rules, err := h.alerts.ListRules(r.Context(), r.URL.Query().Get("deployment_id"))
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(rules)
}

// GetAlert returns one alert rule by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	rule, err := h.alerts.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(rule)
}

// UpdateAlert replaces an alert rule's definition. Trigger bookkeeping
// (last_triggered_at, trigger_count) is preserved by the engine.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req AlertRuleRequest
	if !decodeJSON(rw, r, &req) || !validateRequest(rw, &req) {
		return
	}

	rule := req.toModel(chi.URLParam(r, "id"))
	if err := h.alerts.UpdateRule(r.Context(), rule, actor(r)); err != nil {
		respondError(rw, err)
		return
	}

	updated, err := h.alerts.GetRule(r.Context(), rule.ID)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(updated)
}

// DeleteAlert removes an alert rule.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.alerts.DeleteRule(r.Context(), chi.URLParam(r, "id"), actor(r)); err != nil {
		respondError(rw, err)
		return
	}
	rw.NoContent()
}

// EnableAlert turns an alert rule on.
func (h *Handler) EnableAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertEnabled(w, r, true)
}

// DisableAlert turns an alert rule off.
func (h *Handler) DisableAlert(w http.ResponseWriter, r *http.Request) {
	h.setAlertEnabled(w, r, false)
}

func (h *Handler) setAlertEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	if err := h.alerts.SetRuleEnabled(r.Context(), id, enabled, actor(r)); err != nil {
		respondError(rw, err)
		return
	}

	rule, err := h.alerts.GetRule(r.Context(), id)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(rule)
}

// ListTriggeredAlerts returns rules currently inside their cooldown
// window, optionally filtered by deployment_id.
func (h *Handler) ListTriggeredAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	rules, err := h.alerts.ListTriggered(r.Context(), r.URL.Query().Get("deployment_id"))
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(rules)
}

// AlertStats summarizes the configured alert rules.
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats, err := h.alerts.Stats(r.Context())
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(stats)
}
