// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/switchyardhq/switchyard/internal/audit"
	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/models"
)

const testDeploymentID = "a8098c1a-f86e-4b9a-b27a-dcf7e7bfa42a"

// memRuleStore is an in-memory Store.
type memRuleStore struct {
	mu    sync.Mutex
	rules map[string]*models.Alert
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{rules: make(map[string]*models.Alert)}
}

func (s *memRuleStore) CreateAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cp := *a
	s.rules[a.ID] = &cp
	return nil
}

func (s *memRuleStore) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rules[id]
	if !ok {
		return nil, errors.New("alert not found")
	}
	cp := *a
	return &cp, nil
}

func (s *memRuleStore) ListAlerts(_ context.Context, deploymentID string) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.rules {
		if deploymentID == "" || a.DeploymentID == deploymentID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memRuleStore) ListEnabledAlerts(_ context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.rules {
		if a.Enabled {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memRuleStore) UpdateAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[a.ID]; !ok {
		return errors.New("alert not found")
	}
	cp := *a
	s.rules[a.ID] = &cp
	return nil
}

func (s *memRuleStore) DeleteAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return errors.New("alert not found")
	}
	delete(s.rules, id)
	return nil
}

func (s *memRuleStore) SetAlertEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rules[id]
	if !ok {
		return errors.New("alert not found")
	}
	a.Enabled = enabled
	return nil
}

func (s *memRuleStore) RecordAlertTrigger(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rules[id]
	if !ok {
		return errors.New("alert not found")
	}
	t := at
	a.LastTriggeredAt = &t
	a.TriggerCount++
	return nil
}

// fakeSource serves a fixed aggregate, optionally per slot.
type fakeSource struct {
	mu      sync.Mutex
	overall models.AggregatedMetrics
	bySlot  map[models.SlotName]models.AggregatedMetrics
}

func (s *fakeSource) GetMetrics(_ context.Context, _ string, from, to time.Time, slot models.SlotName) (*models.AggregatedMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot != "" {
		if agg, ok := s.bySlot[slot]; ok {
			cp := agg
			return &cp, nil
		}
	}
	cp := s.overall
	cp.From, cp.To = from, to
	return &cp, nil
}

func (s *fakeSource) setErrorRate(rate float64, requests int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overall = models.AggregatedMetrics{RequestCount: requests, ErrorRate: rate}
}

type fakeSender struct {
	mu    sync.Mutex
	sends []models.AlertEvent
	fail  map[models.ChannelType]bool
}

func (s *fakeSender) Send(_ context.Context, ch models.NotificationChannel, ev models.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[ch.Type] {
		return fmt.Errorf("delivery to %s failed", ch.Type)
	}
	s.sends = append(s.sends, ev)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

type fakeRollback struct {
	mu    sync.Mutex
	calls []models.SlotName
}

func (r *fakeRollback) Rollback(_ context.Context, _ string, failing models.SlotName, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, failing)
	return nil
}

type memAuditStore struct{}

func (memAuditStore) InsertAuditEvent(context.Context, *audit.Event) error { return nil }

type engineFixture struct {
	engine *Engine
	store  *memRuleStore
	source *fakeSource
	sender *fakeSender
	rb     *fakeRollback
	clock  time.Time
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	bus := events.NewBus()
	auditLog := audit.NewLogger(memAuditStore{}, 100)
	t.Cleanup(func() {
		auditLog.Stop()
		_ = bus.Close()
	})

	f := &engineFixture{
		store:  newMemRuleStore(),
		source: &fakeSource{},
		sender: &fakeSender{},
		rb:     &fakeRollback{},
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(Deps{
		Store:    f.store,
		Source:   f.source,
		Sender:   f.sender,
		Rollback: f.rb,
		Bus:      bus,
		Audit:    auditLog,
	}, DefaultConfig())
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *engineFixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *engineFixture) addRule(t *testing.T, mutate func(*models.Alert)) *models.Alert {
	t.Helper()
	rule := &models.Alert{
		DeploymentID:    testDeploymentID,
		Name:            "High error rate",
		Metric:          models.MetricErrorRate,
		Operator:        models.OperatorGT,
		Threshold:       0.05,
		DurationSeconds: 60,
		Severity:        models.SeverityCritical,
		Channels:        []models.NotificationChannel{{Type: models.ChannelWebhook, Target: "http://hooks.example.com/x"}},
		Enabled:         true,
	}
	if mutate != nil {
		mutate(rule)
	}
	if err := f.engine.CreateRule(context.Background(), rule, "tester"); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	return rule
}

func TestTriggerAndResolve(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, nil)

	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())

	if !f.engine.IsFiring(rule.ID) {
		t.Fatal("expected rule to fire once the condition held for the duration")
	}
	if f.sender.count() != 1 {
		t.Errorf("expected 1 notification, got %d", f.sender.count())
	}
	stored, _ := f.store.GetAlert(context.Background(), rule.ID)
	if stored.TriggerCount != 1 || stored.LastTriggeredAt == nil {
		t.Errorf("expected trigger bookkeeping, got count=%d last=%v", stored.TriggerCount, stored.LastTriggeredAt)
	}

	// Condition clears: one resolve, then nothing more.
	f.source.setErrorRate(0.01, 100)
	f.engine.EvaluateAll(context.Background())
	if f.engine.IsFiring(rule.ID) {
		t.Error("expected rule to resolve")
	}
	if f.sender.count() != 2 {
		t.Errorf("expected trigger + resolve notifications, got %d", f.sender.count())
	}
	if last := f.sender.sends[1]; !last.Resolved {
		t.Error("expected second notification to be a resolution")
	}

	f.engine.EvaluateAll(context.Background())
	if f.sender.count() != 2 {
		t.Error("resolve must be idempotent")
	}
}

func TestDurationGating(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, func(a *models.Alert) { a.DurationSeconds = 120 })

	f.source.setErrorRate(0.10, 100)

	f.engine.EvaluateAll(context.Background())
	if f.engine.IsFiring(rule.ID) {
		t.Fatal("must not fire before the duration holds")
	}

	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if f.engine.IsFiring(rule.ID) {
		t.Fatal("60s held is under the 120s gate")
	}

	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if !f.engine.IsFiring(rule.ID) {
		t.Fatal("expected fire once the condition held for the full duration")
	}
}

func TestDurationResetOnRecovery(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, func(a *models.Alert) { a.DurationSeconds = 120 })

	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())

	// A clean evaluation resets the continuous-hold clock.
	f.advance(60 * time.Second)
	f.source.setErrorRate(0.01, 100)
	f.engine.EvaluateAll(context.Background())

	f.advance(60 * time.Second)
	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())

	if f.engine.IsFiring(rule.ID) {
		t.Error("hold time before the recovery must not count toward the gate")
	}
}

func TestCooldownSuppressesRefire(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, func(a *models.Alert) { a.CooldownSeconds = 300 })

	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if !f.engine.IsFiring(rule.ID) {
		t.Fatal("expected initial fire")
	}

	// Clears, then violates again; the second violation holds its full
	// duration but is still inside the cooldown window.
	f.advance(30 * time.Second)
	f.source.setErrorRate(0.01, 100)
	f.engine.EvaluateAll(context.Background())

	f.advance(30 * time.Second)
	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if f.engine.IsFiring(rule.ID) {
		t.Fatal("re-fire inside cooldown must be suppressed")
	}

	// After the cooldown expires the still-violating rule fires again.
	f.advance(240 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if !f.engine.IsFiring(rule.ID) {
		t.Fatal("expected re-fire after cooldown expiry")
	}

	stored, _ := f.store.GetAlert(context.Background(), rule.ID)
	if stored.TriggerCount != 2 {
		t.Errorf("expected 2 recorded triggers, got %d", stored.TriggerCount)
	}
}

func TestRefireAfterCooldownWithoutResolve(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, func(a *models.Alert) { a.CooldownSeconds = 300 })

	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if f.sender.count() != 1 {
		t.Fatalf("expected 1 notification after the first fire, got %d", f.sender.count())
	}

	// Condition stays true. Inside the cooldown nothing re-fires.
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if f.sender.count() != 1 {
		t.Fatalf("re-fire inside cooldown must be suppressed, got %d notifications", f.sender.count())
	}

	// Once the cooldown expires the continuously-violating rule fires
	// again, with no resolve in between.
	f.advance(300 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if f.sender.count() != 2 {
		t.Fatalf("expected a second fire after cooldown expiry, got %d notifications", f.sender.count())
	}
	for _, ev := range f.sender.sends {
		if ev.Resolved {
			t.Error("no resolution expected while the condition holds")
		}
	}

	stored, _ := f.store.GetAlert(context.Background(), rule.ID)
	if stored.TriggerCount != 2 {
		t.Errorf("expected 2 recorded triggers, got %d", stored.TriggerCount)
	}
}

func TestChannelFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.sender.fail = map[models.ChannelType]bool{models.ChannelSlack: true}
	rule := f.addRule(t, func(a *models.Alert) {
		a.Channels = []models.NotificationChannel{
			{Type: models.ChannelSlack, Target: "http://hooks.slack.example/x"},
			{Type: models.ChannelWebhook, Target: "http://hooks.example.com/y"},
			{Type: models.ChannelEmail, Target: "oncall@example.com"},
		}
	})

	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())

	if !f.engine.IsFiring(rule.ID) {
		t.Fatal("firing must not depend on delivery success")
	}
	if f.sender.count() != 2 {
		t.Errorf("expected the 2 healthy channels to deliver, got %d", f.sender.count())
	}
}

func TestNoDataNeverFires(t *testing.T) {
	f := newFixture(t)
	// lt rule would trivially hold on a zero value; absent data must not fire it.
	rule := f.addRule(t, func(a *models.Alert) {
		a.Metric = models.MetricLatencyP99
		a.Operator = models.OperatorLT
		a.Threshold = 1000
	})

	f.source.setErrorRate(0, 0) // zero requests in window
	f.engine.EvaluateAll(context.Background())
	if f.engine.IsFiring(rule.ID) {
		t.Error("rule fired with no samples in the window")
	}
}

func TestAutoRollbackAttributesWorstSlot(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, func(a *models.Alert) { a.AutoRollback = true })

	f.source.setErrorRate(0.20, 200)
	f.source.mu.Lock()
	f.source.bySlot = map[models.SlotName]models.AggregatedMetrics{
		models.SlotBlue:  {RequestCount: 100, ErrorRate: 0.02},
		models.SlotGreen: {RequestCount: 100, ErrorRate: 0.38},
	}
	f.source.mu.Unlock()

	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())

	f.rb.mu.Lock()
	defer f.rb.mu.Unlock()
	if len(f.rb.calls) != 1 {
		t.Fatalf("expected 1 rollback call, got %d", len(f.rb.calls))
	}
	if f.rb.calls[0] != models.SlotGreen {
		t.Errorf("expected green (worse violator) to be rolled back, got %s", f.rb.calls[0])
	}
}

func TestHealthCheckRuleReadsMonitor(t *testing.T) {
	f := newFixture(t)
	health := &staticHealth{counts: map[models.SlotName]int{models.SlotBlue: 4, models.SlotGreen: 0}}
	f.engine.deps.Health = health
	rule := f.addRule(t, func(a *models.Alert) {
		a.Metric = models.MetricHealthCheck
		a.Operator = models.OperatorGTE
		a.Threshold = 3
	})

	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())
	if !f.engine.IsFiring(rule.ID) {
		t.Error("expected health_check rule to fire on 4 consecutive probe failures")
	}

	health.counts = map[models.SlotName]int{models.SlotBlue: 0, models.SlotGreen: 0}
	f.engine.EvaluateAll(context.Background())
	if f.engine.IsFiring(rule.ID) {
		t.Error("expected health_check rule to resolve after recovery")
	}
}

func TestHealthCheckAutoRollback(t *testing.T) {
	f := newFixture(t)
	f.engine.deps.Health = &staticHealth{counts: map[models.SlotName]int{
		models.SlotBlue:  5,
		models.SlotGreen: 0,
	}}
	f.addRule(t, func(a *models.Alert) {
		a.Metric = models.MetricHealthCheck
		a.Operator = models.OperatorGTE
		a.Threshold = 3
		a.AutoRollback = true
	})

	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())

	f.rb.mu.Lock()
	defer f.rb.mu.Unlock()
	if len(f.rb.calls) != 1 {
		t.Fatalf("expected 1 rollback call for a firing health_check rule, got %d", len(f.rb.calls))
	}
	if f.rb.calls[0] != models.SlotBlue {
		t.Errorf("expected the failing blue slot to be rolled back, got %s", f.rb.calls[0])
	}
}

type staticHealth struct {
	counts map[models.SlotName]int
}

func (h *staticHealth) WorstFailureCount(string) int {
	worst := 0
	for _, n := range h.counts {
		if n > worst {
			worst = n
		}
	}
	return worst
}

func (h *staticHealth) FailureCounts(string) map[models.SlotName]int { return h.counts }

func TestValidateRule(t *testing.T) {
	valid := models.Alert{
		DeploymentID:    testDeploymentID,
		Name:            "r",
		Metric:          models.MetricErrorRate,
		Operator:        models.OperatorGT,
		Threshold:       0.1,
		DurationSeconds: 60,
		Severity:        models.SeverityWarning,
	}

	tests := []struct {
		name   string
		mutate func(*models.Alert)
		ok     bool
	}{
		{"valid", nil, true},
		{"missing name", func(a *models.Alert) { a.Name = "" }, false},
		{"bad metric", func(a *models.Alert) { a.Metric = "requests" }, false},
		{"bad operator", func(a *models.Alert) { a.Operator = "!=" }, false},
		{"negative threshold", func(a *models.Alert) { a.Threshold = -0.1 }, false},
		{"zero duration", func(a *models.Alert) { a.DurationSeconds = 0 }, false},
		{"negative duration", func(a *models.Alert) { a.DurationSeconds = -1 }, false},
		{"bad severity", func(a *models.Alert) { a.Severity = "panic" }, false},
		{"bad channel type", func(a *models.Alert) {
			a.Channels = []models.NotificationChannel{{Type: "pager", Target: "x"}}
		}, false},
		{"channel missing target", func(a *models.Alert) {
			a.Channels = []models.NotificationChannel{{Type: models.ChannelSlack}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid
			if tt.mutate != nil {
				tt.mutate(&rule)
			}
			err := ValidateRule(&rule)
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, nil)
	f.addRule(t, func(a *models.Alert) {
		a.Name = "Latency"
		a.Metric = models.MetricLatencyP95
		a.Threshold = 500
		a.Severity = models.SeverityWarning
		a.Enabled = false
	})

	f.source.setErrorRate(0.10, 100)
	f.engine.EvaluateAll(context.Background())
	f.advance(60 * time.Second)
	f.engine.EvaluateAll(context.Background())

	stats, err := f.engine.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Enabled != 1 || stats.Triggered != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.BySeverity[models.SeverityCritical] != 1 || stats.BySeverity[models.SeverityWarning] != 1 {
		t.Errorf("unexpected severity histogram %+v", stats.BySeverity)
	}
}
