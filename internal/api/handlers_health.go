// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DeploymentHealth reports probe state for both slots of a deployment.
type DeploymentHealth struct {
	DeploymentID string      `json:"deployment_id"`
	Monitored    bool        `json:"monitored"`
	Slots        interface{} `json:"slots,omitempty"`
}

// GetHealth returns the latest probe state for a deployment's slots.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	if !h.monitor.IsMonitored(deploymentID) {
		rw.Success(DeploymentHealth{DeploymentID: deploymentID, Monitored: false})
		return
	}

	checks, err := h.monitor.Status(deploymentID)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(DeploymentHealth{
		DeploymentID: deploymentID,
		Monitored:    true,
		Slots:        checks,
	})
}

// ForceHealthCheck probes both slots immediately, outside the regular
// interval, and returns the results.
func (h *Handler) ForceHealthCheck(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	checks, err := h.monitor.ForceCheck(r.Context(), deploymentID)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(DeploymentHealth{
		DeploymentID: deploymentID,
		Monitored:    true,
		Slots:        checks,
	})
}

// StartMonitoring begins periodic health probes for a deployment.
// Starting an already-monitored deployment is a no-op.
func (h *Handler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	if err := h.monitor.Start(r.Context(), deploymentID); err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{
		"deployment_id": deploymentID,
		"monitored":     true,
	})
}

// StopMonitoring halts periodic health probes for a deployment.
func (h *Handler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	if err := h.monitor.Stop(deploymentID); err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{
		"deployment_id": deploymentID,
		"monitored":     false,
	})
}
