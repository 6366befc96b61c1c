// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/switchyardhq/switchyard/internal/audit"
	"github.com/switchyardhq/switchyard/internal/database"
	"github.com/switchyardhq/switchyard/internal/deploy"
	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/models"
	"github.com/switchyardhq/switchyard/internal/router"
)

// perSlotBackends rewrites each slot's probe target so the two slots
// can fail independently behind one test server. Health writes pass
// through to the real store.
type perSlotBackends struct {
	*database.DB
	blue  string
	green string
}

func (s perSlotBackends) GetSlots(ctx context.Context, deploymentID string) ([]models.Slot, error) {
	slots, err := s.DB.GetSlots(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		if slots[i].Name == models.SlotBlue {
			slots[i].BackendURL = s.blue
		} else {
			slots[i].BackendURL = s.green
		}
	}
	return slots, nil
}

// TestBlueFailureRollsTrafficToGreen drives the full rollback path with
// real components: blue at 100% fails three consecutive probes, the
// monitor sees the unhealthy transition, the deployment manager moves
// all traffic to the healthy green slot in the store, and the router
// immediately routes to green.
func TestBlueFailureRollsTrafficToGreen(t *testing.T) {
	ctx := context.Background()

	var blueFailing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if blueFailing.Load() && strings.HasPrefix(r.URL.Path, "/blue") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db, err := database.New(database.Config{})
	if err != nil {
		t.Fatalf("database.New failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus()
	auditLog := audit.NewLogger(db, 100)
	t.Cleanup(func() {
		auditLog.Stop()
		_ = bus.Close()
	})

	manager := deploy.New(db, bus, auditLog)
	trafficRouter := router.New(db, router.DefaultConfig())
	manager.SetInvalidator(trafficRouter)

	dep := &models.Deployment{
		ID:         testDeploymentID,
		PackageRef: "acme/widgets",
		Status:     models.DeploymentStatusRunning,
	}
	if err := manager.CreateDeployment(ctx, dep, "2.1.0",
		"https://cdn.example.com/widgets/2.1.0", srv.URL+"/blue", "operator"); err != nil {
		t.Fatalf("CreateDeployment failed: %v", err)
	}

	rule := &models.Alert{
		DeploymentID:    testDeploymentID,
		Name:            "Probe failures",
		Metric:          models.MetricHealthCheck,
		Operator:        models.OperatorGTE,
		Threshold:       3,
		DurationSeconds: 60,
		Severity:        models.SeverityCritical,
		AutoRollback:    true,
		Enabled:         true,
	}
	if err := db.CreateAlert(ctx, rule); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Interval = time.Hour // probes are driven by ForceCheck
	cfg.Timeout = 2 * time.Second
	m := New(Deps{
		Store:    perSlotBackends{DB: db, blue: srv.URL + "/blue", green: srv.URL + "/green"},
		Alerts:   db,
		Bus:      bus,
		Audit:    auditLog,
		Rollback: manager,
	}, cfg)

	if err := m.Start(ctx, testDeploymentID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.StopAll()
	waitProbed(t, m)

	// Second success marks both slots healthy, persisted to the store.
	if _, err := m.ForceCheck(ctx, testDeploymentID); err != nil {
		t.Fatalf("ForceCheck failed: %v", err)
	}

	decision, err := trafficRouter.Route(ctx, testDeploymentID, models.RouteRequest{})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if decision.Slot != models.SlotBlue {
		t.Fatalf("expected all traffic on blue before the failure, got %s", decision.Slot)
	}

	blueFailing.Store(true)
	for i := 0; i < 3; i++ {
		if _, err := m.ForceCheck(ctx, testDeploymentID); err != nil {
			t.Fatalf("ForceCheck failed: %v", err)
		}
	}

	slots, err := db.GetSlots(ctx, testDeploymentID)
	if err != nil {
		t.Fatalf("GetSlots failed: %v", err)
	}
	for _, s := range slots {
		switch s.Name {
		case models.SlotBlue:
			if s.TrafficPercent != 0 || s.Status != models.SlotStatusDraining {
				t.Errorf("blue: expected 0%%/draining after rollback, got %d%%/%s", s.TrafficPercent, s.Status)
			}
		case models.SlotGreen:
			if s.TrafficPercent != 100 || s.Status != models.SlotStatusActive {
				t.Errorf("green: expected 100%%/active after rollback, got %d%%/%s", s.TrafficPercent, s.Status)
			}
		}
	}

	// The rollback invalidated the routing caches, so the very next
	// request lands on green.
	decision, err = trafficRouter.Route(ctx, testDeploymentID, models.RouteRequest{})
	if err != nil {
		t.Fatalf("Route after rollback failed: %v", err)
	}
	if decision.Slot != models.SlotGreen {
		t.Errorf("expected traffic on green after rollback, got %s", decision.Slot)
	}
}
