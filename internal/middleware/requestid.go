// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package middleware provides HTTP middleware shared by the API layer.
package middleware

import (
	"net/http"

	"github.com/switchyardhq/switchyard/internal/logging"
)

// RequestID assigns each request a unique ID, echoing an upstream
// X-Request-ID when one is present, and threads it through the logging
// context.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := logging.ContextWithRequestID(r.Context(), requestID)

		next(w, r.WithContext(ctx))
	}
}
