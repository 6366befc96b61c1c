// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/switchyardhq/switchyard/internal/audit"
	"github.com/switchyardhq/switchyard/internal/models"
)

// ErrInvalidRule wraps all rule validation failures.
var ErrInvalidRule = errors.New("invalid alert rule")

// ValidateRule checks a rule before it is persisted.
func ValidateRule(a *models.Alert) error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !a.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidRule, a.Metric)
	}
	if !a.Operator.Valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, a.Operator)
	}
	if math.IsNaN(a.Threshold) || math.IsInf(a.Threshold, 0) || a.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be finite and not negative", ErrInvalidRule)
	}
	if a.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRule)
	}
	if a.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidRule)
	}
	switch a.Severity {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, a.Severity)
	}
	for i := range a.Channels {
		switch a.Channels[i].Type {
		case models.ChannelSlack, models.ChannelWebhook, models.ChannelEmail:
		default:
			return fmt.Errorf("%w: unknown channel type %q", ErrInvalidRule, a.Channels[i].Type)
		}
		if a.Channels[i].Target == "" {
			return fmt.Errorf("%w: channel target is required", ErrInvalidRule)
		}
	}
	return nil
}

// CreateRule validates and persists a new rule.
func (e *Engine) CreateRule(ctx context.Context, a *models.Alert, actor string) error {
	if err := ValidateRule(a); err != nil {
		return err
	}
	if err := e.deps.Store.CreateAlert(ctx, a); err != nil {
		return err
	}
	e.deps.Audit.RecordAction(audit.EventTypeAlertCreated, a.DeploymentID, actor,
		fmt.Sprintf("alert %q created", a.Name),
		map[string]interface{}{"alert_id": a.ID, "metric": a.Metric, "threshold": a.Threshold})
	return nil
}

// GetRule fetches one rule.
func (e *Engine) GetRule(ctx context.Context, id string) (*models.Alert, error) {
	return e.deps.Store.GetAlert(ctx, id)
}

// ListRules lists rules, optionally filtered by deployment.
func (e *Engine) ListRules(ctx context.Context, deploymentID string) ([]models.Alert, error) {
	return e.deps.Store.ListAlerts(ctx, deploymentID)
}

// UpdateRule validates and rewrites a rule, resetting its condition
// state so the new thresholds start from a clean slate.
func (e *Engine) UpdateRule(ctx context.Context, a *models.Alert, actor string) error {
	if err := ValidateRule(a); err != nil {
		return err
	}
	if err := e.deps.Store.UpdateAlert(ctx, a); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conditions, a.ID)
	e.mu.Unlock()

	e.deps.Audit.RecordAction(audit.EventTypeAlertUpdated, a.DeploymentID, actor,
		fmt.Sprintf("alert %q updated", a.Name), map[string]interface{}{"alert_id": a.ID})
	return nil
}

// DeleteRule removes a rule and its condition state.
func (e *Engine) DeleteRule(ctx context.Context, id string, actor string) error {
	rule, err := e.deps.Store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if err := e.deps.Store.DeleteAlert(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conditions, id)
	e.mu.Unlock()

	e.deps.Audit.RecordAction(audit.EventTypeAlertDeleted, rule.DeploymentID, actor,
		fmt.Sprintf("alert %q deleted", rule.Name), map[string]interface{}{"alert_id": id})
	return nil
}

// SetRuleEnabled toggles a rule. Disabling clears its condition state
// so a re-enable never inherits a stale duration window.
func (e *Engine) SetRuleEnabled(ctx context.Context, id string, enabled bool, actor string) error {
	if err := e.deps.Store.SetAlertEnabled(ctx, id, enabled); err != nil {
		return err
	}

	if !enabled {
		e.mu.Lock()
		delete(e.conditions, id)
		e.mu.Unlock()
	}

	action := "disabled"
	if enabled {
		action = "enabled"
	}
	e.deps.Audit.RecordAction(audit.EventTypeAlertUpdated, "", actor,
		fmt.Sprintf("alert %s %s", id, action), nil)
	return nil
}

// ListTriggered returns the rules currently in the firing state.
func (e *Engine) ListTriggered(ctx context.Context, deploymentID string) ([]models.Alert, error) {
	rules, err := e.deps.Store.ListAlerts(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	out := make([]models.Alert, 0)
	for i := range rules {
		if e.IsFiring(rules[i].ID) {
			out = append(out, rules[i])
		}
	}
	return out, nil
}

// Stats summarizes the configured rules.
func (e *Engine) Stats(ctx context.Context) (*models.AlertStats, error) {
	rules, err := e.deps.Store.ListAlerts(ctx, "")
	if err != nil {
		return nil, err
	}

	stats := &models.AlertStats{
		Total:      len(rules),
		BySeverity: make(map[models.AlertSeverity]int),
	}
	for i := range rules {
		if rules[i].Enabled {
			stats.Enabled++
		}
		if e.IsFiring(rules[i].ID) {
			stats.Triggered++
		}
		stats.BySeverity[rules[i].Severity]++
	}
	return stats, nil
}
