// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package models

// RouteReason explains why the router picked a slot.
type RouteReason string

const (
	RouteReasonOverride RouteReason = "slot_override"
	RouteReasonVersion  RouteReason = "version_match"
	RouteReasonBeta     RouteReason = "beta_access"
	RouteReasonSticky   RouteReason = "sticky_session"
	RouteReasonWeighted RouteReason = "weighted_random"
	RouteReasonFallback RouteReason = "active_fallback"
)

// RouteDecision is the outcome of routing one request to a slot.
type RouteDecision struct {
	DeploymentID string      `json:"deployment_id"`
	Slot         SlotName    `json:"slot"`
	FrontendURL  string      `json:"frontend_url"`
	BackendURL   string      `json:"backend_url"`
	Version      string      `json:"version"`
	Reason       RouteReason `json:"reason"`
}

// RouteRequest carries the request attributes the router inspects.
// Header extraction happens at the API boundary so the router stays
// independent of net/http.
type RouteRequest struct {
	// SlotOverride names a slot directly (diagnostics).
	SlotOverride string
	// Version requests the slot carrying an exact version.
	Version string
	// Beta requests the canary slot (lowest nonzero, non-100 weight).
	Beta bool
	// SessionID and UserID drive sticky routing; SessionID wins when both set.
	SessionID string
	UserID    string
}

// StickyKey returns the identifier used for session affinity, or ""
// when the request carries none.
func (r *RouteRequest) StickyKey() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.UserID
}
