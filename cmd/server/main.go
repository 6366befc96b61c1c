// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package main is the entry point for the Switchyard server.
//
// Switchyard orchestrates blue/green deployments of plugin packages:
// each deployment owns two slots whose traffic weights always sum to
// 100, and the engine routes requests, probes slot health, evaluates
// alert rules, and rolls back automatically when a slot goes bad.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 sources (env, YAML file, defaults)
//  2. Database: DuckDB for deployments, slots, alerts, metrics, audit
//  3. Event bus: in-process Watermill gochannel pub/sub
//  4. Domain components: collector, router, deployment manager,
//     health monitor, alert engine, notifier
//  5. WebSocket hub: real-time event fan-out to connected clients
//  6. Supervisor tree: suture supervisors per layer (data,
//     monitoring, api) with restart-on-crash semantics
//  7. HTTP server: chi REST API under /api/v1 plus /healthz, /metrics
//     and /ws
//
// # Configuration
//
// Settings load via Koanf v2 with layered sources (highest wins):
// SWITCHYARD_* environment variables, an optional YAML config file
// (SWITCHYARD_CONFIG or the default search paths), built-in defaults.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor tree
// stops the HTTP server first, the collector flushes its buffered
// samples, health probing halts, the audit buffer drains, and the
// event bus closes before the database does.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/switchyardhq/switchyard/internal/alerting"
	"github.com/switchyardhq/switchyard/internal/api"
	"github.com/switchyardhq/switchyard/internal/audit"
	"github.com/switchyardhq/switchyard/internal/collector"
	"github.com/switchyardhq/switchyard/internal/config"
	"github.com/switchyardhq/switchyard/internal/database"
	"github.com/switchyardhq/switchyard/internal/deploy"
	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/health"
	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/models"
	"github.com/switchyardhq/switchyard/internal/notify"
	"github.com/switchyardhq/switchyard/internal/router"
	"github.com/switchyardhq/switchyard/internal/supervisor"
	"github.com/switchyardhq/switchyard/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors are reported through the default logger since
		// logging settings are part of the config itself.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("db_path", cfg.Database.Path).
		Msg("Starting Switchyard")

	db, err := database.New(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	bus := events.NewBus()
	auditLog := audit.NewLogger(db, 1000)

	metricsCollector := collector.New(db, collector.Config{
		FlushInterval:     cfg.Collector.FlushInterval,
		MaxBufferSize:     cfg.Collector.MaxBufferSize,
		RetentionDays:     cfg.Collector.RetentionDays,
		RetentionInterval: cfg.Collector.RetentionInterval,
	})

	trafficRouter := router.New(db, router.Config{
		SlotCacheTTL:    cfg.Router.SlotCacheTTL,
		SessionTTL:      cfg.Router.SessionTTL,
		SessionCapacity: cfg.Router.SessionCapacity,
	})

	manager := deploy.New(db, bus, auditLog)
	// Weight writes invalidate the routing caches synchronously; the bus
	// subscription below covers writes from other components.
	manager.SetInvalidator(trafficRouter)

	monitor := health.New(health.Deps{
		Store:    db,
		Alerts:   db,
		Recorder: metricsCollector,
		Bus:      bus,
		Audit:    auditLog,
		Rollback: manager,
	}, health.Config{
		Interval:           cfg.Health.Interval,
		Timeout:            cfg.Health.Timeout,
		Endpoint:           cfg.Health.Endpoint,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
		HealthyThreshold:   cfg.Health.HealthyThreshold,
	})

	notifier := notify.New(notify.Config{
		HTTPTimeout:   cfg.Notify.HTTPTimeout,
		RatePerSecond: cfg.Notify.RatePerSecond,
	})

	alertEngine := alerting.New(alerting.Deps{
		Store:    db,
		Source:   metricsCollector,
		Health:   monitor,
		Sender:   notifier,
		Rollback: manager,
		Bus:      bus,
		Audit:    auditLog,
	}, alerting.Config{
		EvaluationInterval: cfg.Alerting.EvaluationInterval,
		Window:             cfg.Alerting.Window,
		DefaultCooldown:    cfg.Alerting.DefaultCooldown,
	})

	hub := websocket.NewHub(bus)

	handler := api.NewHandler(manager, trafficRouter, monitor, alertEngine, metricsCollector, db)
	routes := api.NewRouter(&cfg.Server, handler, hub)
	server := api.NewServer(&cfg.Server, routes)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(metricsCollector)
	tree.AddMonitoringService(alertEngine)
	tree.AddMonitoringService(hub)
	tree.AddMonitoringService(supervisor.NewFuncService("router-invalidation", func(ctx context.Context) error {
		return trafficRouter.WatchEvents(ctx, bus)
	}))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	resumeMonitoring(ctx, manager, monitor)

	logging.Info().Str("addr", cfg.Server.Addr).Msg("Switchyard ready")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	shutdown(metricsCollector, monitor, trafficRouter, auditLog, bus)

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
	logging.Info().Msg("Switchyard stopped")
}

// resumeMonitoring restarts health probes for every running deployment
// after a process restart. Failures are logged, not fatal: monitoring
// can be started again through the API.
func resumeMonitoring(ctx context.Context, manager *deploy.Manager, monitor *health.Monitor) {
	deployments, err := manager.ListDeployments(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Cannot list deployments to resume monitoring")
		return
	}
	for _, d := range deployments {
		if d.Status != models.DeploymentStatusRunning {
			continue
		}
		if err := monitor.Start(ctx, d.ID); err != nil {
			logging.Error().
				Err(err).
				Str("deployment_id", d.ID).
				Msg("Cannot resume health monitoring")
			continue
		}
		logging.Info().Str("deployment_id", d.ID).Msg("Health monitoring resumed")
	}
}

// shutdown flushes and stops the components with state the supervisor
// tree does not own. Order matters: collector first so buffered samples
// persist, audit last-but-one so shutdown actions are recorded, bus
// last so subscribers see their channels close.
func shutdown(
	metricsCollector *collector.Collector,
	monitor *health.Monitor,
	trafficRouter *router.Router,
	auditLog *audit.Logger,
	bus *events.Bus,
) {
	metricsCollector.Shutdown()
	monitor.StopAll()
	trafficRouter.Stop()
	auditLog.Stop()
	if err := bus.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing event bus")
	}
}
