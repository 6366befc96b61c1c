// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package health probes deployment slot backends on a fixed interval
// and tracks per-slot health with hysteresis. Transitions are
// persisted, published on the event bus, and can trigger an automatic
// rollback when an auto-rollback health rule is configured.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/switchyardhq/switchyard/internal/audit"
	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/metrics"
	"github.com/switchyardhq/switchyard/internal/models"
)

// ErrNotMonitored is returned for operations on a deployment that has
// no active monitoring.
var ErrNotMonitored = errors.New("deployment is not being monitored")

// successSampleEvery controls how often steady-state successful probes
// are recorded as latency samples.
const successSampleEvery = 5

// SlotStore is the persistence surface the monitor needs.
type SlotStore interface {
	GetSlots(ctx context.Context, deploymentID string) ([]models.Slot, error)
	UpdateSlotHealth(ctx context.Context, deploymentID string, name models.SlotName, health models.HealthState, failureCount int, checkedAt time.Time) error
}

// AlertStore reads alert rules so the monitor can tell whether an
// auto-rollback health rule is configured for a deployment.
type AlertStore interface {
	ListAlerts(ctx context.Context, deploymentID string) ([]models.Alert, error)
}

// RollbackTrigger initiates an automatic rollback. Implemented by the
// deployment manager.
type RollbackTrigger interface {
	Rollback(ctx context.Context, deploymentID string, failing models.SlotName, initiatedBy, reason string) error
}

// SampleRecorder receives probe latency samples. Implemented by the
// metrics collector.
type SampleRecorder interface {
	RecordRequest(sample models.RequestSample)
}

// Config holds monitor tuning.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// Endpoint is the probe path appended to each slot's backend URL.
	Endpoint           string
	UnhealthyThreshold int
	HealthyThreshold   int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           30 * time.Second,
		Timeout:            10 * time.Second,
		Endpoint:           "/healthz",
		UnhealthyThreshold: 3,
		HealthyThreshold:   2,
	}
}

// Deps bundles the monitor's collaborators.
type Deps struct {
	Store    SlotStore
	Alerts   AlertStore
	Recorder SampleRecorder
	Bus      *events.Bus
	Audit    *audit.Logger
	Rollback RollbackTrigger
}

// slotProber holds per-slot probing state.
type slotProber struct {
	mu         sync.Mutex
	slot       models.SlotName
	backendURL string
	tracker    *tracker
	lastProbe  time.Time
	// successStreak counts successes since the last recorded sample.
	successStreak int
}

// deploymentMonitor groups the probers of one deployment.
type deploymentMonitor struct {
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	probers map[models.SlotName]*slotProber
}

// Monitor runs one probing goroutine per monitored slot.
type Monitor struct {
	deps   Deps
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	deployments map[string]*deploymentMonitor
}

// New creates a monitor. Monitoring per deployment starts with Start.
func New(deps Deps, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/healthz"
	}
	return &Monitor{
		deps: deps,
		cfg:  cfg,
		client: &http.Client{
			// Per-probe deadlines come from the request context.
			Timeout: 0,
		},
		deployments: make(map[string]*deploymentMonitor),
	}
}

// Start begins probing both slots of a deployment. Idempotent: starting
// an already monitored deployment is a no-op.
func (m *Monitor) Start(ctx context.Context, deploymentID string) error {
	m.mu.Lock()
	if _, exists := m.deployments[deploymentID]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	slots, err := m.deps.Store.GetSlots(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("cannot start monitoring: %w", err)
	}

	// Prober lifetime is detached from the caller's request context.
	probeCtx, cancel := context.WithCancel(context.Background())
	dm := &deploymentMonitor{
		cancel:  cancel,
		probers: make(map[models.SlotName]*slotProber, len(slots)),
	}

	m.mu.Lock()
	if _, exists := m.deployments[deploymentID]; exists {
		m.mu.Unlock()
		cancel()
		return nil
	}
	for i := range slots {
		sp := &slotProber{
			slot:       slots[i].Name,
			backendURL: slots[i].BackendURL,
			tracker:    newTracker(m.cfg.UnhealthyThreshold, m.cfg.HealthyThreshold),
		}
		dm.probers[slots[i].Name] = sp
		dm.wg.Add(1)
		go m.probeLoop(probeCtx, deploymentID, sp, &dm.wg)
	}
	m.deployments[deploymentID] = dm
	m.mu.Unlock()

	metrics.MonitoredSlots.Add(float64(len(slots)))
	m.deps.Audit.RecordAction(audit.EventTypeMonitoringStart, deploymentID, "engine",
		"health monitoring started", map[string]interface{}{"slots": len(slots)})
	logging.Info().
		Str("deployment_id", deploymentID).
		Dur("interval", m.cfg.Interval).
		Msg("Health monitoring started")
	return nil
}

// Stop halts probing for one deployment.
func (m *Monitor) Stop(deploymentID string) error {
	m.mu.Lock()
	dm, exists := m.deployments[deploymentID]
	if exists {
		delete(m.deployments, deploymentID)
	}
	m.mu.Unlock()

	if !exists {
		return ErrNotMonitored
	}

	dm.cancel()
	dm.wg.Wait()
	metrics.MonitoredSlots.Sub(float64(len(dm.probers)))
	m.deps.Audit.RecordAction(audit.EventTypeMonitoringStop, deploymentID, "engine",
		"health monitoring stopped", nil)
	logging.Info().Str("deployment_id", deploymentID).Msg("Health monitoring stopped")
	return nil
}

// StopAll halts all probing. Used at shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.deployments))
	for id := range m.deployments {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// IsMonitored reports whether a deployment is currently probed.
func (m *Monitor) IsMonitored(deploymentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deployments[deploymentID]
	return ok
}

// SlotCheck is a point-in-time view of one probed slot.
type SlotCheck struct {
	Slot                 models.SlotName    `json:"slot"`
	Health               models.HealthState `json:"health"`
	ConsecutiveFailures  int                `json:"consecutive_failures"`
	ConsecutiveSuccesses int                `json:"consecutive_successes"`
	LastProbe            time.Time          `json:"last_probe"`
}

// Status returns the current probe state of a monitored deployment.
func (m *Monitor) Status(deploymentID string) ([]SlotCheck, error) {
	m.mu.Lock()
	dm, exists := m.deployments[deploymentID]
	m.mu.Unlock()
	if !exists {
		return nil, ErrNotMonitored
	}

	out := make([]SlotCheck, 0, len(dm.probers))
	for _, name := range []models.SlotName{models.SlotBlue, models.SlotGreen} {
		sp, ok := dm.probers[name]
		if !ok {
			continue
		}
		sp.mu.Lock()
		out = append(out, SlotCheck{
			Slot:                 sp.slot,
			Health:               sp.tracker.state,
			ConsecutiveFailures:  sp.tracker.consecutiveFails,
			ConsecutiveSuccesses: sp.tracker.consecutiveSuccesses,
			LastProbe:            sp.lastProbe,
		})
		sp.mu.Unlock()
	}
	return out, nil
}

// ForceCheck probes both slots immediately, outside the regular
// interval, and returns the resulting state. Probe outcomes feed the
// same hysteresis as scheduled probes.
func (m *Monitor) ForceCheck(ctx context.Context, deploymentID string) ([]SlotCheck, error) {
	m.mu.Lock()
	dm, exists := m.deployments[deploymentID]
	m.mu.Unlock()
	if !exists {
		return nil, ErrNotMonitored
	}

	for _, sp := range dm.probers {
		m.checkSlot(ctx, deploymentID, sp)
	}
	return m.Status(deploymentID)
}

// WorstFailureCount returns the highest consecutive probe failure count
// across a deployment's slots, or 0 when unmonitored. This is the value
// health_check alert rules evaluate against.
func (m *Monitor) WorstFailureCount(deploymentID string) int {
	m.mu.Lock()
	dm, exists := m.deployments[deploymentID]
	m.mu.Unlock()
	if !exists {
		return 0
	}

	worst := 0
	for _, sp := range dm.probers {
		sp.mu.Lock()
		if sp.tracker.consecutiveFails > worst {
			worst = sp.tracker.consecutiveFails
		}
		sp.mu.Unlock()
	}
	return worst
}

// FailureCounts returns every monitored slot's consecutive probe
// failure count, or nil when the deployment is unmonitored. Alert-driven
// rollbacks use this to attribute a health_check violation to a slot.
func (m *Monitor) FailureCounts(deploymentID string) map[models.SlotName]int {
	m.mu.Lock()
	dm, exists := m.deployments[deploymentID]
	m.mu.Unlock()
	if !exists {
		return nil
	}

	out := make(map[models.SlotName]int, len(dm.probers))
	for name, sp := range dm.probers {
		sp.mu.Lock()
		out[name] = sp.tracker.consecutiveFails
		sp.mu.Unlock()
	}
	return out
}

// probeLoop probes one slot until its context is cancelled. The first
// probe runs immediately.
func (m *Monitor) probeLoop(ctx context.Context, deploymentID string, sp *slotProber, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.checkSlot(ctx, deploymentID, sp)
	for {
		select {
		case <-ticker.C:
			m.checkSlot(ctx, deploymentID, sp)
		case <-ctx.Done():
			return
		}
	}
}

// checkSlot runs one probe and applies its outcome. A slot without a
// backend URL is frontend-only and counts as an automatic success.
func (m *Monitor) checkSlot(ctx context.Context, deploymentID string, sp *slotProber) {
	var result probeResult
	if sp.backendURL == "" {
		result = probeResult{Success: true}
	} else {
		result = probe(ctx, m.client, probeURL(sp.backendURL, m.cfg.Endpoint), m.cfg.Timeout)
	}
	if ctx.Err() != nil {
		return
	}

	metrics.ProbeDuration.WithLabelValues(string(sp.slot)).Observe(result.Latency.Seconds())
	if !result.Success {
		metrics.ProbeFailures.WithLabelValues(string(sp.slot), result.FailReason).Inc()
	}

	now := time.Now().UTC()

	sp.mu.Lock()
	transitioned := sp.tracker.observe(result.Success)
	state := sp.tracker.state
	fails := sp.tracker.consecutiveFails
	sp.lastProbe = now

	recordSample := transitioned
	if result.Success {
		sp.successStreak++
		if sp.successStreak >= successSampleEvery {
			sp.successStreak = 0
			recordSample = true
		}
	} else {
		sp.successStreak = 0
	}
	sp.mu.Unlock()

	if recordSample && m.deps.Recorder != nil {
		m.deps.Recorder.RecordRequest(models.RequestSample{
			DeploymentID: deploymentID,
			Slot:         sp.slot,
			LatencyMS:    float64(result.Latency.Milliseconds()),
			IsError:      !result.Success,
		})
	}

	if err := m.deps.Store.UpdateSlotHealth(ctx, deploymentID, sp.slot, state, fails, now); err != nil {
		logging.Error().Err(err).
			Str("deployment_id", deploymentID).
			Str("slot", string(sp.slot)).
			Msg("Failed to persist slot health")
	}

	if !result.Success {
		logging.Debug().
			Str("deployment_id", deploymentID).
			Str("slot", string(sp.slot)).
			Str("reason", result.FailReason).
			Str("detail", result.Detail).
			Int("consecutive_failures", fails).
			Msg("Health probe failed")
	}

	if transitioned {
		m.onTransition(ctx, deploymentID, sp.slot, state, result)
	}
}

// onTransition handles a health state change: metrics, event, audit,
// and possibly an automatic rollback.
func (m *Monitor) onTransition(ctx context.Context, deploymentID string, slot models.SlotName, state models.HealthState, result probeResult) {
	metrics.HealthTransitions.WithLabelValues(string(slot), string(state)).Inc()

	logging.Info().
		Str("deployment_id", deploymentID).
		Str("slot", string(slot)).
		Str("health", string(state)).
		Msg("Slot health changed")

	m.deps.Bus.Publish(events.Event{
		Type:         events.TypeHealthChanged,
		DeploymentID: deploymentID,
		Slot:         slot,
		Health:       state,
		Reason:       result.Detail,
	})

	severity := audit.SeverityInfo
	if state == models.HealthUnhealthy {
		severity = audit.SeverityWarning
	}
	m.deps.Audit.Record(&audit.Event{
		Type:         audit.EventTypeHealthChanged,
		Severity:     severity,
		DeploymentID: deploymentID,
		Actor:        "engine",
		Action:       fmt.Sprintf("slot %s became %s", slot, state),
		Details:      "{}",
	})

	if state == models.HealthUnhealthy {
		m.maybeAutoRollback(ctx, deploymentID, slot, result)
	}
}

// maybeAutoRollback rolls traffic off a newly unhealthy slot when all
// preconditions hold: the slot carries traffic, its sibling is healthy,
// and an enabled auto-rollback health rule exists for the deployment.
func (m *Monitor) maybeAutoRollback(ctx context.Context, deploymentID string, failing models.SlotName, result probeResult) {
	if m.deps.Rollback == nil {
		return
	}

	slots, err := m.deps.Store.GetSlots(ctx, deploymentID)
	if err != nil {
		logging.Error().Err(err).Str("deployment_id", deploymentID).Msg("Auto-rollback check: cannot read slots")
		return
	}

	var failingSlot, sibling *models.Slot
	for i := range slots {
		switch slots[i].Name {
		case failing:
			failingSlot = &slots[i]
		case failing.Sibling():
			sibling = &slots[i]
		}
	}
	if failingSlot == nil || sibling == nil {
		return
	}
	if failingSlot.TrafficPercent == 0 {
		return
	}
	if sibling.Health != models.HealthHealthy {
		logging.Warn().
			Str("deployment_id", deploymentID).
			Str("slot", string(failing)).
			Msg("Skipping auto-rollback: sibling slot is not healthy")
		return
	}

	rules, err := m.deps.Alerts.ListAlerts(ctx, deploymentID)
	if err != nil {
		logging.Error().Err(err).Str("deployment_id", deploymentID).Msg("Auto-rollback check: cannot read alert rules")
		return
	}
	armed := false
	for i := range rules {
		if rules[i].Enabled && rules[i].AutoRollback && rules[i].Metric == models.MetricHealthCheck {
			armed = true
			break
		}
	}
	if !armed {
		return
	}

	reason := fmt.Sprintf("health probes failing (%s)", result.Detail)
	if err := m.deps.Rollback.Rollback(ctx, deploymentID, failing, "health_monitor", reason); err != nil {
		logging.Error().Err(err).
			Str("deployment_id", deploymentID).
			Str("slot", string(failing)).
			Msg("Auto-rollback failed")
	}
}

// probeURL joins the backend base URL with the probe endpoint.
func probeURL(base, endpoint string) string {
	return strings.TrimRight(base, "/") + endpoint
}
