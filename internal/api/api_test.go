// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/switchyardhq/switchyard/internal/cache"
	"github.com/switchyardhq/switchyard/internal/config"
	"github.com/switchyardhq/switchyard/internal/database"
	"github.com/switchyardhq/switchyard/internal/deploy"
	"github.com/switchyardhq/switchyard/internal/health"
	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/models"
	"github.com/switchyardhq/switchyard/internal/router"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

const testDeploymentID = "a8098c1a-f86e-4b9a-b27a-dcf7e7bfa42a"

type fakeDeployments struct {
	createErr   error
	rollbackErr error
	promoteErr  error
	trafficErr  error
	getErr      error

	lastActor       string
	lastInitiatedBy string
	lastBlue        int
	lastGreen       int

	deployment *models.Deployment
	slots      []models.Slot
}

func (f *fakeDeployments) CreateDeployment(_ context.Context, d *models.Deployment, version, frontendURL, backendURL, actor string) error {
	f.lastActor = actor
	if f.createErr != nil {
		return f.createErr
	}
	f.deployment = &models.Deployment{
		ID:             d.ID,
		PackageRef:     d.PackageRef,
		CurrentVersion: version,
		Status:         models.DeploymentStatusRunning,
	}
	return nil
}

func (f *fakeDeployments) GetDeployment(context.Context, string) (*models.Deployment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.deployment, nil
}

func (f *fakeDeployments) ListDeployments(context.Context) ([]models.Deployment, error) {
	if f.deployment == nil {
		return nil, nil
	}
	return []models.Deployment{*f.deployment}, nil
}

func (f *fakeDeployments) GetSlots(context.Context, string) ([]models.Slot, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.slots, nil
}

func (f *fakeDeployments) UpdateTrafficWeights(_ context.Context, _ string, blue, green int, actor string) error {
	f.lastActor, f.lastBlue, f.lastGreen = actor, blue, green
	return f.trafficErr
}

func (f *fakeDeployments) Rollback(_ context.Context, _ string, _ models.SlotName, initiatedBy, _ string) error {
	f.lastInitiatedBy = initiatedBy
	return f.rollbackErr
}

func (f *fakeDeployments) PromoteSlot(_ context.Context, _ string, _ models.SlotName, actor string) error {
	f.lastActor = actor
	return f.promoteErr
}

type fakeRoutes struct {
	decision *models.RouteDecision
	err      error
	lastReq  models.RouteRequest
}

func (f *fakeRoutes) Route(_ context.Context, _ string, req models.RouteRequest) (*models.RouteDecision, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

func (f *fakeRoutes) CacheStats() cache.Stats { return cache.Stats{} }

type fakeMonitor struct {
	monitored bool
	checks    []health.SlotCheck
	startErr  error
	stopErr   error
	forceErr  error
}

func (f *fakeMonitor) Start(context.Context, string) error { return f.startErr }
func (f *fakeMonitor) Stop(string) error                    { return f.stopErr }
func (f *fakeMonitor) IsMonitored(string) bool              { return f.monitored }

func (f *fakeMonitor) Status(string) ([]health.SlotCheck, error) {
	if !f.monitored {
		return nil, health.ErrNotMonitored
	}
	return f.checks, nil
}

func (f *fakeMonitor) ForceCheck(context.Context, string) ([]health.SlotCheck, error) {
	if f.forceErr != nil {
		return nil, f.forceErr
	}
	return f.checks, nil
}

type fakeAlerts struct {
	rules     map[string]*models.Alert
	createErr error
	lastActor string
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{rules: make(map[string]*models.Alert)}
}

func (f *fakeAlerts) CreateRule(_ context.Context, a *models.Alert, actor string) error {
	f.lastActor = actor
	if f.createErr != nil {
		return f.createErr
	}
	f.rules[a.ID] = a
	return nil
}

func (f *fakeAlerts) GetRule(_ context.Context, id string) (*models.Alert, error) {
	rule, ok := f.rules[id]
	if !ok {
		return nil, database.ErrAlertNotFound
	}
	return rule, nil
}

func (f *fakeAlerts) ListRules(context.Context, string) ([]models.Alert, error) {
	out := make([]models.Alert, 0, len(f.rules))
	for _, rule := range f.rules {
		out = append(out, *rule)
	}
	return out, nil
}

func (f *fakeAlerts) UpdateRule(_ context.Context, a *models.Alert, actor string) error {
	f.lastActor = actor
	if _, ok := f.rules[a.ID]; !ok {
		return database.ErrAlertNotFound
	}
	f.rules[a.ID] = a
	return nil
}

func (f *fakeAlerts) DeleteRule(_ context.Context, id, actor string) error {
	f.lastActor = actor
	if _, ok := f.rules[id]; !ok {
		return database.ErrAlertNotFound
	}
	delete(f.rules, id)
	return nil
}

func (f *fakeAlerts) SetRuleEnabled(_ context.Context, id string, enabled bool, actor string) error {
	f.lastActor = actor
	rule, ok := f.rules[id]
	if !ok {
		return database.ErrAlertNotFound
	}
	rule.Enabled = enabled
	return nil
}

func (f *fakeAlerts) ListTriggered(context.Context, string) ([]models.Alert, error) {
	return nil, nil
}

func (f *fakeAlerts) Stats(context.Context) (*models.AlertStats, error) {
	return &models.AlertStats{Total: len(f.rules)}, nil
}

type fakeMetrics struct {
	agg     *models.AggregatedMetrics
	buckets []models.TimeSeriesBucket
	err     error
}

func (f *fakeMetrics) GetMetrics(_ context.Context, deploymentID string, from, to time.Time, slot models.SlotName) (*models.AggregatedMetrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.agg != nil {
		return f.agg, nil
	}
	return &models.AggregatedMetrics{DeploymentID: deploymentID, Slot: slot, From: from, To: to}, nil
}

func (f *fakeMetrics) GetTimeSeries(context.Context, string, time.Time, time.Time, time.Duration, models.SlotName) ([]models.TimeSeriesBucket, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.buckets, nil
}

func (f *fakeMetrics) PendingSamples() int { return 42 }

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type testEnv struct {
	deployments *fakeDeployments
	routes      *fakeRoutes
	monitor     *fakeMonitor
	alerts      *fakeAlerts
	metrics     *fakeMetrics
	pinger      *fakePinger
	handler     http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		deployments: &fakeDeployments{},
		routes:      &fakeRoutes{},
		monitor:     &fakeMonitor{},
		alerts:      newFakeAlerts(),
		metrics:     &fakeMetrics{},
		pinger:      &fakePinger{},
	}
	handler := NewHandler(env.deployments, env.routes, env.monitor, env.alerts, env.metrics, env.pinger)
	cfg := &config.ServerConfig{RateLimit: 0}
	env.handler = NewRouter(cfg, handler, nil)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestCreateDeployment(t *testing.T) {
	env := newTestEnv()

	rec, resp := env.do(t, http.MethodPost, "/api/v1/deployments", map[string]interface{}{
		"package_ref":  "acme/widgets",
		"version":      "2.1.0",
		"frontend_url": "https://cdn.example.com/widgets/2.1.0",
		"backend_url":  "https://widgets-blue.example.com",
	}, map[string]string{"X-Actor": "release-bot"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if !resp.Success {
		t.Error("expected success envelope")
	}
	if env.deployments.lastActor != "release-bot" {
		t.Errorf("actor = %q, want release-bot", env.deployments.lastActor)
	}
}

func TestCreateDeploymentValidation(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing package_ref", map[string]interface{}{
			"version": "1.0.0", "frontend_url": "https://f.example.com", "backend_url": "https://b.example.com",
		}},
		{"bad frontend url", map[string]interface{}{
			"package_ref": "acme/widgets", "version": "1.0.0", "frontend_url": "not-a-url", "backend_url": "https://b.example.com",
		}},
		{"bad id", map[string]interface{}{
			"id": "nope", "package_ref": "acme/widgets", "version": "1.0.0",
			"frontend_url": "https://f.example.com", "backend_url": "https://b.example.com",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, http.MethodPost, "/api/v1/deployments", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
				t.Errorf("expected %s error, got %+v", ErrCodeValidationFailed, resp.Error)
			}
		})
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	env := newTestEnv()
	env.deployments.getErr = database.ErrDeploymentNotFound

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deployments/"+testDeploymentID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("expected %s error, got %+v", ErrCodeNotFound, resp.Error)
	}
}

func TestUpdateTraffic(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodPut, "/api/v1/deployments/"+testDeploymentID+"/traffic", map[string]int{
		"blue_percent":  30,
		"green_percent": 70,
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if env.deployments.lastBlue != 30 || env.deployments.lastGreen != 70 {
		t.Errorf("weights = %d/%d, want 30/70", env.deployments.lastBlue, env.deployments.lastGreen)
	}
	if env.deployments.lastActor != "api" {
		t.Errorf("default actor = %q, want api", env.deployments.lastActor)
	}
}

func TestUpdateTrafficInvalidSplit(t *testing.T) {
	env := newTestEnv()
	env.deployments.trafficErr = database.ErrInvalidTrafficSplit

	rec, resp := env.do(t, http.MethodPut, "/api/v1/deployments/"+testDeploymentID+"/traffic", map[string]int{
		"blue_percent":  30,
		"green_percent": 30,
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("expected %s error, got %+v", ErrCodeBadRequest, resp.Error)
	}
}

func TestRollbackConflicts(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		err  error
	}{
		{"in progress", deploy.ErrRollbackInProgress},
		{"no healthy slot", deploy.ErrNoHealthySlot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.deployments.rollbackErr = tt.err
			rec, resp := env.do(t, http.MethodPost, "/api/v1/deployments/"+testDeploymentID+"/rollback", map[string]string{
				"failing_slot": "green",
				"reason":       "elevated error rate",
			}, nil)
			if rec.Code != http.StatusConflict {
				t.Fatalf("status = %d, want 409", rec.Code)
			}
			if resp.Error == nil || resp.Error.Code != ErrCodeConflict {
				t.Errorf("expected %s error, got %+v", ErrCodeConflict, resp.Error)
			}
		})
	}
}

func TestRollbackReportsPromotedSibling(t *testing.T) {
	env := newTestEnv()

	rec, resp := env.do(t, http.MethodPost, "/api/v1/deployments/"+testDeploymentID+"/rollback", map[string]string{
		"failing_slot": "green",
		"reason":       "bad deploy",
	}, map[string]string{"X-Actor": "oncall"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape %T", resp.Data)
	}
	if data["promoted_slot"] != "blue" {
		t.Errorf("promoted_slot = %v, want blue", data["promoted_slot"])
	}
	if env.deployments.lastInitiatedBy != "oncall" {
		t.Errorf("initiated_by = %q, want oncall", env.deployments.lastInitiatedBy)
	}
}

func TestRollbackRejectsBadSlot(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodPost, "/api/v1/deployments/"+testDeploymentID+"/rollback", map[string]string{
		"failing_slot": "purple",
		"reason":       "bad deploy",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRouteReadsHeaders(t *testing.T) {
	env := newTestEnv()
	env.routes.decision = &models.RouteDecision{
		DeploymentID: testDeploymentID,
		Slot:         models.SlotGreen,
		Reason:       models.RouteReasonBeta,
	}

	rec, _ := env.do(t, http.MethodGet, "/api/v1/deployments/"+testDeploymentID+"/route", nil, map[string]string{
		"X-Beta-Access": "true",
		"X-Session-ID":  "sess-1",
		"X-User-ID":     "user-1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := env.routes.lastReq
	if !got.Beta || got.SessionID != "sess-1" || got.UserID != "user-1" {
		t.Errorf("route request = %+v, headers not extracted", got)
	}
}

func TestRouteNoActiveSlot(t *testing.T) {
	env := newTestEnv()
	env.routes.err = router.ErrNoActiveSlot

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deployments/"+testDeploymentID+"/route", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("expected %s error, got %+v", ErrCodeServiceUnavailable, resp.Error)
	}
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv()

	body := map[string]interface{}{
		"deployment_id":    testDeploymentID,
		"name":             "high error rate",
		"metric":           "error_rate",
		"operator":         "gt",
		"threshold":        0.05,
		"duration_seconds": 120,
		"severity":         "critical",
	}
	rec, resp := env.do(t, http.MethodPost, "/api/v1/alerts", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	id := data["id"].(string)
	if data["enabled"] != true {
		t.Error("new rule should default to enabled")
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/disable", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200", rec.Code)
	}
	if env.alerts.rules[id].Enabled {
		t.Error("rule should be disabled")
	}

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/alerts/"+id, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	if len(env.alerts.rules) != 0 {
		t.Error("rule should be gone")
	}
}

func TestCreateAlertRejectsUnknownMetric(t *testing.T) {
	env := newTestEnv()

	rec, resp := env.do(t, http.MethodPost, "/api/v1/alerts", map[string]interface{}{
		"deployment_id": testDeploymentID,
		"name":          "nonsense",
		"metric":        "disk_temperature",
		"operator":      "gt",
		"threshold":     1,
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
		t.Errorf("expected %s error, got %+v", ErrCodeValidationFailed, resp.Error)
	}
}

func TestCreateAlertRejectsZeroDuration(t *testing.T) {
	env := newTestEnv()

	rec, resp := env.do(t, http.MethodPost, "/api/v1/alerts", map[string]interface{}{
		"deployment_id":    testDeploymentID,
		"name":             "no hold window",
		"metric":           "error_rate",
		"operator":         "gt",
		"threshold":        0.05,
		"duration_seconds": 0,
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
		t.Errorf("expected %s error, got %+v", ErrCodeValidationFailed, resp.Error)
	}
}

func TestGetHealthUnmonitored(t *testing.T) {
	env := newTestEnv()

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deployments/"+testDeploymentID+"/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["monitored"] != false {
		t.Error("expected monitored=false")
	}
}

func TestGetHealthMonitored(t *testing.T) {
	env := newTestEnv()
	env.monitor.monitored = true
	env.monitor.checks = []health.SlotCheck{
		{Slot: models.SlotBlue, Health: models.HealthHealthy},
		{Slot: models.SlotGreen, Health: models.HealthUnhealthy, ConsecutiveFailures: 3},
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deployments/"+testDeploymentID+"/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["monitored"] != true {
		t.Error("expected monitored=true")
	}
	slots := data["slots"].([]interface{})
	if len(slots) != 2 {
		t.Errorf("slots = %d, want 2", len(slots))
	}
}

func TestForceCheckNotMonitored(t *testing.T) {
	env := newTestEnv()
	env.monitor.forceErr = health.ErrNotMonitored

	rec, _ := env.do(t, http.MethodPost, "/api/v1/deployments/"+testDeploymentID+"/health/check", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMetricsTimeRangeValidation(t *testing.T) {
	env := newTestEnv()
	base := "/api/v1/deployments/" + testDeploymentID + "/metrics"

	tests := []struct {
		name string
		path string
		want int
	}{
		{"defaults", base, http.StatusOK},
		{"bad from", base + "?from=yesterday", http.StatusBadRequest},
		{"inverted range", base + "?from=2026-08-23T12:00:00Z&to=2026-08-23T11:00:00Z", http.StatusBadRequest},
		{"bad slot", base + "?slot=purple", http.StatusBadRequest},
		{"slot filter", base + "?slot=green", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodGet, tt.path, nil, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTimeSeriesWidthValidation(t *testing.T) {
	env := newTestEnv()
	base := "/api/v1/deployments/" + testDeploymentID + "/metrics/timeseries"

	rec, _ := env.do(t, http.MethodGet, base+"?width=0s", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero width status = %d, want 400", rec.Code)
	}

	rec, _ = env.do(t, http.MethodGet, base+"?width=10m", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid width status = %d, want 200", rec.Code)
	}
}

func TestHealthzReadiness(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	env.pinger.err = context.DeadlineExceeded
	rec, resp := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status with dead store = %d, want 503", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("expected %s error, got %+v", ErrCodeServiceUnavailable, resp.Error)
	}
}

func TestStatsEndpoints(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodGet, "/api/v1/router/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("router stats status = %d, want 200", rec.Code)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/collector/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("collector stats status = %d, want 200", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["pending_samples"] != float64(42) {
		t.Errorf("pending_samples = %v, want 42", data["pending_samples"])
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	env := newTestEnv()

	rec, resp := env.do(t, http.MethodGet, "/api/v1/deployments", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	headerID := rec.Header().Get("X-Request-ID")
	if headerID == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if resp.Meta == nil || resp.Meta.RequestID != headerID {
		t.Errorf("meta request ID does not match header %q", headerID)
	}
}
