// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/switchyardhq/switchyard/internal/models"
	"github.com/switchyardhq/switchyard/internal/validation"
)

// decodeJSON decodes a request body into dst, writing a 400 on failure.
// Returns false when the caller should stop.
func decodeJSON(rw *ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		rw.BadRequest("invalid JSON body: " + err.Error())
		return false
	}
	return true
}

// validateRequest runs struct validation, writing a 400 with field
// details on failure. Returns false when the caller should stop.
func validateRequest(rw *ResponseWriter, req interface{}) bool {
	if verr := validation.ValidateStruct(req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return false
	}
	return true
}

// CreateDeploymentRequest is the POST /deployments body.
type CreateDeploymentRequest struct {
	ID          string `json:"id" validate:"omitempty,uuid4"`
	PackageRef  string `json:"package_ref" validate:"required"`
	Version     string `json:"version" validate:"required"`
	FrontendURL string `json:"frontend_url" validate:"required,url"`
	BackendURL  string `json:"backend_url" validate:"required,url"`
}

// CreateDeployment registers a deployment with its initial blue slot at
// 100% traffic.
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req CreateDeploymentRequest
	if !decodeJSON(rw, r, &req) || !validateRequest(rw, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d := &models.Deployment{
		ID:         req.ID,
		PackageRef: req.PackageRef,
	}
	if err := h.deployments.CreateDeployment(r.Context(), d, req.Version, req.FrontendURL, req.BackendURL, actor(r)); err != nil {
		respondError(rw, err)
		return
	}

	created, err := h.deployments.GetDeployment(r.Context(), d.ID)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Created(created)
}

// ListDeployments returns all deployments.
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	deployments, err := h.deployments.ListDeployments(r.Context())
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(deployments)
}

// GetDeployment returns one deployment by ID.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	d, err := h.deployments.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(d)
}

// GetSlots returns both slots of a deployment.
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	slots, err := h.deployments.GetSlots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(slots)
}

// TrafficSplit reports the current weight of each slot.
type TrafficSplit struct {
	DeploymentID string `json:"deployment_id"`
	BluePercent  int    `json:"blue_percent"`
	GreenPercent int    `json:"green_percent"`
}

// GetTraffic returns the current traffic split.
func (h *Handler) GetTraffic(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	slots, err := h.deployments.GetSlots(r.Context(), deploymentID)
	if err != nil {
		respondError(rw, err)
		return
	}

	split := TrafficSplit{DeploymentID: deploymentID}
	for _, s := range slots {
		switch s.Name {
		case models.SlotBlue:
			split.BluePercent = s.TrafficPercent
		case models.SlotGreen:
			split.GreenPercent = s.TrafficPercent
		}
	}
	rw.Success(split)
}

// UpdateTrafficRequest is the PUT /deployments/{id}/traffic body. The
// two percentages must sum to exactly 100.
type UpdateTrafficRequest struct {
	BluePercent  int `json:"blue_percent" validate:"gte=0,lte=100"`
	GreenPercent int `json:"green_percent" validate:"gte=0,lte=100"`
}

// UpdateTraffic shifts the traffic split between slots.
func (h *Handler) UpdateTraffic(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	var req UpdateTrafficRequest
	if !decodeJSON(rw, r, &req) || !validateRequest(rw, &req) {
		return
	}

	if err := h.deployments.UpdateTrafficWeights(r.Context(), deploymentID, req.BluePercent, req.GreenPercent, actor(r)); err != nil {
		respondError(rw, err)
		return
	}

	rw.Success(TrafficSplit{
		DeploymentID: deploymentID,
		BluePercent:  req.BluePercent,
		GreenPercent: req.GreenPercent,
	})
}

// RollbackRequest is the POST /deployments/{id}/rollback body.
type RollbackRequest struct {
	FailingSlot string `json:"failing_slot" validate:"required,slotname"`
	Reason      string `json:"reason" validate:"required"`
}

// Rollback drains the failing slot and shifts all traffic to its sibling.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	var req RollbackRequest
	if !decodeJSON(rw, r, &req) || !validateRequest(rw, &req) {
		return
	}

	failing := models.SlotName(req.FailingSlot)
	if err := h.deployments.Rollback(r.Context(), deploymentID, failing, actor(r), req.Reason); err != nil {
		respondError(rw, err)
		return
	}

	rw.Success(map[string]interface{}{
		"deployment_id": deploymentID,
		"failing_slot":  failing,
		"promoted_slot": failing.Sibling(),
	})
}

// PromoteRequest is the POST /deployments/{id}/promote body.
type PromoteRequest struct {
	Target string `json:"target" validate:"required,slotname"`
}

// Promote moves 100% of traffic to the target slot and marks its version
// as the deployment's current version.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	deploymentID := chi.URLParam(r, "id")

	var req PromoteRequest
	if !decodeJSON(rw, r, &req) || !validateRequest(rw, &req) {
		return
	}

	target := models.SlotName(req.Target)
	if err := h.deployments.PromoteSlot(r.Context(), deploymentID, target, actor(r)); err != nil {
		respondError(rw, err)
		return
	}

	d, err := h.deployments.GetDeployment(r.Context(), deploymentID)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(d)
}

// Route resolves a request to a slot, reading routing hints from headers.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	req := models.RouteRequest{
		SlotOverride: r.Header.Get("X-Deployment-Slot"),
		Version:      r.Header.Get("X-Plugin-Version"),
		Beta:         r.Header.Get("X-Beta-Access") == "true",
		SessionID:    r.Header.Get("X-Session-ID"),
		UserID:       r.Header.Get("X-User-ID"),
	}

	decision, err := h.routes.Route(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(decision)
}
