// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package alerting evaluates threshold rules against aggregated metrics
// on a fixed interval. Firings respect duration gating and per-rule
// cooldowns, notify all configured channels in parallel, and may
// trigger an automatic rollback.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/switchyardhq/switchyard/internal/audit"
	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/metrics"
	"github.com/switchyardhq/switchyard/internal/models"
)

// Store is the persistence surface for alert rules.
type Store interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, deploymentID string) ([]models.Alert, error)
	ListEnabledAlerts(ctx context.Context) ([]models.Alert, error)
	UpdateAlert(ctx context.Context, a *models.Alert) error
	DeleteAlert(ctx context.Context, id string) error
	SetAlertEnabled(ctx context.Context, id string, enabled bool) error
	RecordAlertTrigger(ctx context.Context, id string, at time.Time) error
}

// MetricsSource serves aggregated metrics for rule evaluation.
// Implemented by the collector.
type MetricsSource interface {
	GetMetrics(ctx context.Context, deploymentID string, from, to time.Time, slot models.SlotName) (*models.AggregatedMetrics, error)
}

// HealthSource serves live probe failure counts for health_check rules.
// Implemented by the health monitor.
type HealthSource interface {
	WorstFailureCount(deploymentID string) int
	FailureCounts(deploymentID string) map[models.SlotName]int
}

// Sender delivers one alert event to one channel. Implemented by the
// notifier.
type Sender interface {
	Send(ctx context.Context, ch models.NotificationChannel, ev models.AlertEvent) error
}

// RollbackTrigger initiates an automatic rollback. Implemented by the
// deployment manager.
type RollbackTrigger interface {
	Rollback(ctx context.Context, deploymentID string, failing models.SlotName, initiatedBy, reason string) error
}

// Config holds engine tuning.
type Config struct {
	EvaluationInterval time.Duration
	// Window is the metrics lookback per evaluation.
	Window time.Duration
	// DefaultCooldown applies to rules without an explicit cooldown.
	DefaultCooldown time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		EvaluationInterval: time.Minute,
		Window:             5 * time.Minute,
		DefaultCooldown:    5 * time.Minute,
	}
}

// conditionState tracks one rule's evaluation history between ticks.
type conditionState struct {
	// metSince is when the condition first held continuously, nil when
	// it does not currently hold.
	metSince  *time.Time
	firing    bool
	lastValue float64
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store    Store
	Source   MetricsSource
	Health   HealthSource
	Sender   Sender
	Rollback RollbackTrigger
	Bus      *events.Bus
	Audit    *audit.Logger
}

// Engine evaluates alert rules and dispatches firings.
type Engine struct {
	deps Deps
	cfg  Config

	mu         sync.Mutex
	conditions map[string]*conditionState

	// now is injectable for deterministic tests.
	now func() time.Time
}

// New creates an alert engine. Call Serve to run periodic evaluation.
func New(deps Deps, cfg Config) *Engine {
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = time.Duration(models.DefaultCooldownSeconds) * time.Second
	}
	return &Engine{
		deps:       deps,
		cfg:        cfg,
		conditions: make(map[string]*conditionState),
		now:        time.Now,
	}
}

// Serve implements suture.Service: evaluate all enabled rules on the
// configured interval until the context is cancelled. Evaluation errors
// are logged, never propagated.
func (e *Engine) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.EvaluationInterval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", e.cfg.EvaluationInterval).
		Dur("window", e.cfg.Window).
		Msg("Alert engine started")

	for {
		select {
		case <-ticker.C:
			e.EvaluateAll(ctx)
		case <-ctx.Done():
			logging.Info().Msg("Alert engine stopped")
			return ctx.Err()
		}
	}
}

// EvaluateAll runs one evaluation pass over every enabled rule.
func (e *Engine) EvaluateAll(ctx context.Context) {
	rules, err := e.deps.Store.ListEnabledAlerts(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Alert evaluation: cannot list enabled rules")
		return
	}

	for i := range rules {
		if ctx.Err() != nil {
			return
		}
		e.evaluate(ctx, &rules[i])
	}
}

// evaluate runs one rule against the current window.
func (e *Engine) evaluate(ctx context.Context, rule *models.Alert) {
	metrics.AlertEvaluations.Inc()

	value, ok := e.currentValue(ctx, rule)
	if !ok {
		// No data to judge; an absent signal neither fires nor holds a
		// firing alert open.
		e.observeCondition(ctx, rule, 0, false)
		return
	}

	met := rule.Operator.Compare(value, rule.Threshold)
	e.observeCondition(ctx, rule, value, met)
}

// observeCondition advances the rule's condition state machine.
func (e *Engine) observeCondition(ctx context.Context, rule *models.Alert, value float64, met bool) {
	now := e.now().UTC()

	e.mu.Lock()
	state, okState := e.conditions[rule.ID]
	if !okState {
		state = &conditionState{}
		e.conditions[rule.ID] = state
	}
	state.lastValue = value

	if !met {
		state.metSince = nil
		wasFiring := state.firing
		state.firing = false
		e.mu.Unlock()
		if wasFiring {
			e.resolve(ctx, rule, value)
		}
		return
	}

	if state.metSince == nil {
		since := now
		state.metSince = &since
	}

	heldFor := now.Sub(*state.metSince)
	required := time.Duration(rule.DurationSeconds) * time.Second
	if heldFor < required {
		e.mu.Unlock()
		return
	}

	// Cooldown is the only re-fire gate: a rule whose condition stays
	// true fires again once its cooldown since the last trigger expires.
	if rule.LastTriggeredAt != nil && now.Sub(*rule.LastTriggeredAt) < rule.Cooldown() {
		e.mu.Unlock()
		return
	}

	state.firing = true
	e.mu.Unlock()

	e.trigger(ctx, rule, value, now)
}

// trigger handles one firing: bookkeeping, notifications, event, audit,
// and optional auto-rollback.
func (e *Engine) trigger(ctx context.Context, rule *models.Alert, value float64, at time.Time) {
	metrics.AlertsTriggered.WithLabelValues(string(rule.Severity)).Inc()

	logging.Warn().
		Str("alert_id", rule.ID).
		Str("alert", rule.Name).
		Str("deployment_id", rule.DeploymentID).
		Str("metric", string(rule.Metric)).
		Float64("value", value).
		Float64("threshold", rule.Threshold).
		Msg("Alert triggered")

	if err := e.deps.Store.RecordAlertTrigger(ctx, rule.ID, at); err != nil {
		logging.Error().Err(err).Str("alert_id", rule.ID).Msg("Failed to record alert trigger")
	}

	ev := models.AlertEvent{
		AlertID:      rule.ID,
		AlertName:    rule.Name,
		DeploymentID: rule.DeploymentID,
		Metric:       rule.Metric,
		Operator:     rule.Operator,
		Threshold:    rule.Threshold,
		Value:        value,
		Severity:     rule.Severity,
		OccurredAt:   at,
	}
	e.notifyAll(ctx, rule, ev)

	e.deps.Bus.Publish(events.Event{
		Type:         events.TypeAlertTriggered,
		DeploymentID: rule.DeploymentID,
		AlertID:      rule.ID,
		AlertName:    rule.Name,
		Reason:       fmt.Sprintf("%s %s %.4g (value %.4g)", rule.Metric, rule.Operator, rule.Threshold, value),
	})

	e.deps.Audit.Record(&audit.Event{
		Type:         audit.EventTypeAlertTriggered,
		Severity:     auditSeverity(rule.Severity),
		DeploymentID: rule.DeploymentID,
		Actor:        "engine",
		Action:       fmt.Sprintf("alert %q fired: %s=%.4g", rule.Name, rule.Metric, value),
		Details:      "{}",
	})

	if rule.AutoRollback {
		e.autoRollback(ctx, rule, value)
	}
}

// resolve handles the condition clearing after a firing.
func (e *Engine) resolve(ctx context.Context, rule *models.Alert, value float64) {
	metrics.AlertsResolved.Inc()
	now := e.now().UTC()

	logging.Info().
		Str("alert_id", rule.ID).
		Str("alert", rule.Name).
		Str("deployment_id", rule.DeploymentID).
		Msg("Alert resolved")

	ev := models.AlertEvent{
		AlertID:      rule.ID,
		AlertName:    rule.Name,
		DeploymentID: rule.DeploymentID,
		Metric:       rule.Metric,
		Operator:     rule.Operator,
		Threshold:    rule.Threshold,
		Value:        value,
		Severity:     rule.Severity,
		Resolved:     true,
		OccurredAt:   now,
	}
	e.notifyAll(ctx, rule, ev)

	e.deps.Bus.Publish(events.Event{
		Type:         events.TypeAlertResolved,
		DeploymentID: rule.DeploymentID,
		AlertID:      rule.ID,
		AlertName:    rule.Name,
	})

	e.deps.Audit.RecordAction(audit.EventTypeAlertResolved, rule.DeploymentID, "engine",
		fmt.Sprintf("alert %q resolved", rule.Name), nil)
}

// notifyAll fans the event out to every channel in parallel. A failing
// channel never blocks or fails the others.
func (e *Engine) notifyAll(ctx context.Context, rule *models.Alert, ev models.AlertEvent) {
	if e.deps.Sender == nil {
		return
	}

	var wg sync.WaitGroup
	for _, ch := range rule.Channels {
		wg.Add(1)
		go func(ch models.NotificationChannel) {
			defer wg.Done()
			if err := e.deps.Sender.Send(ctx, ch, ev); err != nil {
				logging.Error().Err(err).
					Str("alert_id", rule.ID).
					Str("channel", string(ch.Type)).
					Msg("Notification delivery failed")
			}
		}(ch)
	}
	wg.Wait()
}

// autoRollback drains the slot whose metrics violate the rule hardest.
func (e *Engine) autoRollback(ctx context.Context, rule *models.Alert, value float64) {
	if e.deps.Rollback == nil {
		return
	}

	failing, ok := e.worstSlot(ctx, rule)
	if !ok {
		logging.Warn().
			Str("alert_id", rule.ID).
			Str("deployment_id", rule.DeploymentID).
			Msg("Auto-rollback skipped: cannot attribute violation to a slot")
		return
	}

	reason := fmt.Sprintf("alert %q: %s %s %.4g (value %.4g)",
		rule.Name, rule.Metric, rule.Operator, rule.Threshold, value)
	if err := e.deps.Rollback.Rollback(ctx, rule.DeploymentID, failing, "alert_engine", reason); err != nil {
		logging.Error().Err(err).
			Str("deployment_id", rule.DeploymentID).
			Str("slot", string(failing)).
			Msg("Alert-driven rollback failed")
	}
}

// worstSlot evaluates the rule per slot and returns the slot violating
// the condition, preferring the harder violation when both do.
func (e *Engine) worstSlot(ctx context.Context, rule *models.Alert) (models.SlotName, bool) {
	if rule.Metric == models.MetricHealthCheck {
		return e.worstHealthSlot(rule)
	}

	now := e.now().UTC()
	from := now.Add(-e.cfg.Window)

	var worst models.SlotName
	var worstValue float64
	found := false

	for _, slot := range []models.SlotName{models.SlotBlue, models.SlotGreen} {
		agg, err := e.deps.Source.GetMetrics(ctx, rule.DeploymentID, from, now, slot)
		if err != nil {
			continue
		}
		v, ok := aggregateValue(agg, rule.Metric)
		if !ok || !rule.Operator.Compare(v, rule.Threshold) {
			continue
		}
		if !found || harder(rule.Operator, v, worstValue) {
			worst, worstValue, found = slot, v, true
		}
	}
	return worst, found
}

// worstHealthSlot attributes a health_check violation to the slot with
// the most consecutive probe failures.
func (e *Engine) worstHealthSlot(rule *models.Alert) (models.SlotName, bool) {
	if e.deps.Health == nil {
		return "", false
	}
	counts := e.deps.Health.FailureCounts(rule.DeploymentID)

	var worst models.SlotName
	worstFails := -1
	for _, slot := range []models.SlotName{models.SlotBlue, models.SlotGreen} {
		n, ok := counts[slot]
		if !ok || !rule.Operator.Compare(float64(n), rule.Threshold) {
			continue
		}
		if n > worstFails {
			worst, worstFails = slot, n
		}
	}
	return worst, worstFails >= 0
}

// harder reports whether a violates the operator direction more than b.
func harder(op models.AlertOperator, a, b float64) bool {
	switch op {
	case models.OperatorLT, models.OperatorLTE:
		return a < b
	default:
		return a > b
	}
}

// currentValue resolves the rule's metric to a number for this tick.
// ok is false when the window holds no usable signal.
func (e *Engine) currentValue(ctx context.Context, rule *models.Alert) (float64, bool) {
	if rule.Metric == models.MetricHealthCheck {
		if e.deps.Health == nil {
			return 0, false
		}
		return float64(e.deps.Health.WorstFailureCount(rule.DeploymentID)), true
	}

	now := e.now().UTC()
	agg, err := e.deps.Source.GetMetrics(ctx, rule.DeploymentID, now.Add(-e.cfg.Window), now, "")
	if err != nil {
		logging.Error().Err(err).
			Str("alert_id", rule.ID).
			Str("deployment_id", rule.DeploymentID).
			Msg("Alert evaluation: cannot read metrics")
		return 0, false
	}
	return aggregateValue(agg, rule.Metric)
}

// aggregateValue extracts one metric from an aggregate. Latency and
// error-rate readings require at least one request in the window.
func aggregateValue(agg *models.AggregatedMetrics, metric models.AlertMetric) (float64, bool) {
	switch metric {
	case models.MetricErrorRate:
		return agg.ErrorRate, agg.RequestCount > 0
	case models.MetricLatencyP99:
		return agg.LatencyP99, agg.RequestCount > 0
	case models.MetricLatencyP95:
		return agg.LatencyP95, agg.RequestCount > 0
	case models.MetricLatencyAvg:
		return agg.LatencyAvg, agg.RequestCount > 0
	case models.MetricCPUUsage:
		if agg.CPUUsage == nil {
			return 0, false
		}
		return *agg.CPUUsage, true
	case models.MetricMemoryUsage:
		if agg.MemoryUsage == nil {
			return 0, false
		}
		return *agg.MemoryUsage, true
	}
	return 0, false
}

// IsFiring reports whether a rule is currently in the firing state.
func (e *Engine) IsFiring(alertID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.conditions[alertID]
	return ok && state.firing
}

// LastValue returns the most recently evaluated value of a rule.
func (e *Engine) LastValue(alertID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.conditions[alertID]
	if !ok {
		return 0, false
	}
	return state.lastValue, true
}

func auditSeverity(s models.AlertSeverity) audit.Severity {
	switch s {
	case models.SeverityCritical:
		return audit.SeverityCritical
	case models.SeverityWarning:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}
