// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/switchyardhq/switchyard/internal/config"
	"github.com/switchyardhq/switchyard/internal/middleware"
	"github.com/switchyardhq/switchyard/internal/websocket"
)

// NewRouter assembles the chi router with the full middleware stack and
// all endpoint routes.
func NewRouter(cfg *config.ServerConfig, handler *Handler, hub *websocket.Hub) http.Handler {
	mwConfig := DefaultChiMiddlewareConfig()
	if cfg != nil {
		mwConfig.CORSAllowedOrigins = cfg.CORSOrigins
		mwConfig.RateLimitRequests = cfg.RateLimit
	}
	mw := NewChiMiddleware(mwConfig)

	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(mw.RateLimit())
	r.Use(chiMiddleware(middleware.PrometheusMetrics))
	r.Use(chiMiddleware(middleware.Compression))

	r.Get("/healthz", handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	if hub != nil {
		r.Get("/ws", websocket.ServeWS(hub))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", handler.CreateDeployment)
			r.Get("/", handler.ListDeployments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetDeployment)
				r.Get("/slots", handler.GetSlots)
				r.Get("/traffic", handler.GetTraffic)
				r.Put("/traffic", handler.UpdateTraffic)
				r.Post("/rollback", handler.Rollback)
				r.Post("/promote", handler.Promote)
				r.Get("/route", handler.Route)
				r.Get("/metrics", handler.GetDeploymentMetrics)
				r.Get("/metrics/timeseries", handler.GetDeploymentTimeSeries)
				r.Get("/health", handler.GetHealth)
				r.Post("/health/check", handler.ForceHealthCheck)
				r.Post("/monitoring/start", handler.StartMonitoring)
				r.Post("/monitoring/stop", handler.StopMonitoring)
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", handler.CreateAlert)
			r.Get("/", handler.ListAlerts)
			r.Get("/triggered", handler.ListTriggeredAlerts)
			r.Get("/stats", handler.AlertStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetAlert)
				r.Put("/", handler.UpdateAlert)
				r.Delete("/", handler.DeleteAlert)
				r.Post("/enable", handler.EnableAlert)
				r.Post("/disable", handler.DisableAlert)
			})
		})

		r.Get("/router/stats", handler.RouterStats)
		r.Get("/collector/stats", handler.CollectorStats)
	})

	return r
}

// NewServer builds the HTTP server with timeouts from configuration.
func NewServer(cfg *config.ServerConfig, routes http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      routes,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
