// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/switchyardhq/switchyard/internal/models"
)

// defaultMetricsWindow is the lookback applied when the caller omits
// the from/to range.
const defaultMetricsWindow = time.Hour

// parseTimeRange reads from/to query parameters (RFC 3339), defaulting
// to the last hour. Returns ok=false after writing a 400.
func parseTimeRange(rw *ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	now := time.Now().UTC()
	from, to = now.Add(-defaultMetricsWindow), now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			rw.BadRequest("from must be RFC 3339: " + err.Error())
			return from, to, false
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			rw.BadRequest("to must be RFC 3339: " + err.Error())
			return from, to, false
		}
		to = parsed
	}
	if !to.After(from) {
		rw.BadRequest("to must be after from")
		return from, to, false
	}
	return from, to, true
}

// parseSlotFilter reads the optional slot query parameter. Returns
// ok=false after writing a 400 for unknown slot names.
func parseSlotFilter(rw *ResponseWriter, r *http.Request) (models.SlotName, bool) {
	raw := r.URL.Query().Get("slot")
	if raw == "" {
		return "", true
	}
	slot := models.SlotName(raw)
	if !slot.Valid() {
		rw.BadRequest("slot must be one of: blue, green")
		return "", false
	}
	return slot, true
}

// GetDeploymentMetrics returns aggregated metrics for a deployment over
// the requested range, optionally restricted to one slot.
func (h *Handler) GetDeploymentMetrics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	from, to, ok := parseTimeRange(rw, r)
	if !ok {
		return
	}
	slot, ok := parseSlotFilter(rw, r)
	if !ok {
		return
	}

	agg, err := h.metrics.GetMetrics(r.Context(), chi.URLParam(r, "id"), from, to, slot)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(agg)
}

// GetDeploymentTimeSeries returns fixed-width metric buckets for
// charting. The width query parameter accepts Go durations and defaults
// to 5m.
func (h *Handler) GetDeploymentTimeSeries(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	from, to, ok := parseTimeRange(rw, r)
	if !ok {
		return
	}
	slot, ok := parseSlotFilter(rw, r)
	if !ok {
		return
	}

	width := 5 * time.Minute
	if raw := r.URL.Query().Get("width"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			rw.BadRequest("width must be a positive duration like 5m")
			return
		}
		width = parsed
	}

	buckets, err := h.metrics.GetTimeSeries(r.Context(), chi.URLParam(r, "id"), from, to, width, slot)
	if err != nil {
		respondError(rw, err)
		return
	}
	rw.Success(buckets)
}
