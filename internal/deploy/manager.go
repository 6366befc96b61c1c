// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package deploy owns deployment lifecycle mutations: creation, traffic
// weight changes, rollbacks, and slot promotion. All writes go through
// the store's transactional operations so the two-slot weight invariant
// holds at every observable point.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/switchyardhq/switchyard/internal/audit"
	"github.com/switchyardhq/switchyard/internal/database"
	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/metrics"
	"github.com/switchyardhq/switchyard/internal/models"
)

var (
	// ErrRollbackInProgress means another rollback of the same
	// deployment has not finished yet.
	ErrRollbackInProgress = errors.New("rollback already in progress for deployment")
	// ErrNoHealthySlot means the rollback target cannot take traffic.
	ErrNoHealthySlot = errors.New("sibling slot is not healthy, refusing rollback")
)

// Store is the persistence surface the manager needs.
type Store interface {
	CreateDeployment(ctx context.Context, d *models.Deployment, version, frontendURL, backendURL string) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	ListDeployments(ctx context.Context) ([]models.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id string, status models.DeploymentStatus) error
	GetSlots(ctx context.Context, deploymentID string) ([]models.Slot, error)
	UpdateTrafficSplit(ctx context.Context, deploymentID string, bluePercent, greenPercent int) error
	UpdateSlotStatus(ctx context.Context, deploymentID string, name models.SlotName, status models.SlotStatus) error
	RollbackTraffic(ctx context.Context, deploymentID string, failing models.SlotName) error
}

// Invalidator drops cached routing state for one deployment.
// Implemented by the router.
type Invalidator interface {
	InvalidateDeployment(deploymentID string)
}

// Manager coordinates deployment mutations.
type Manager struct {
	store       Store
	bus         *events.Bus
	audit       *audit.Logger
	invalidator Invalidator

	// inFlight guards one rollback per deployment. A concurrent second
	// rollback fails fast instead of queueing behind the first.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a manager.
func New(store Store, bus *events.Bus, auditLog *audit.Logger) *Manager {
	return &Manager{
		store:    store,
		bus:      bus,
		audit:    auditLog,
		inFlight: make(map[string]struct{}),
	}
}

// SetInvalidator wires the routing caches into the write path: every
// weight change invalidates them before it is announced on the bus, so
// no routing decision is made against the old split.
func (m *Manager) SetInvalidator(inv Invalidator) {
	m.invalidator = inv
}

func (m *Manager) invalidate(deploymentID string) {
	if m.invalidator != nil {
		m.invalidator.InvalidateDeployment(deploymentID)
	}
}

// CreateDeployment registers a deployment with its initial blue slot at
// 100% traffic and an idle green slot.
func (m *Manager) CreateDeployment(ctx context.Context, d *models.Deployment, version, frontendURL, backendURL, actor string) error {
	if d.CurrentVersion == "" {
		d.CurrentVersion = version
	}
	if err := m.store.CreateDeployment(ctx, d, version, frontendURL, backendURL); err != nil {
		return err
	}

	m.bus.Publish(events.Event{
		Type:         events.TypeDeploymentCreated,
		DeploymentID: d.ID,
		BluePercent:  100,
		GreenPercent: 0,
		InitiatedBy:  actor,
	})
	m.audit.RecordAction(audit.EventTypeDeploymentCreated, d.ID, actor,
		fmt.Sprintf("deployment created for %s", d.PackageRef),
		map[string]interface{}{"version": version})

	logging.Info().
		Str("deployment_id", d.ID).
		Str("package_ref", d.PackageRef).
		Str("version", version).
		Msg("Deployment created")
	return nil
}

// GetDeployment fetches a deployment.
func (m *Manager) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	return m.store.GetDeployment(ctx, id)
}

// ListDeployments returns all deployments.
func (m *Manager) ListDeployments(ctx context.Context) ([]models.Deployment, error) {
	return m.store.ListDeployments(ctx)
}

// GetSlots returns both slots of a deployment.
func (m *Manager) GetSlots(ctx context.Context, deploymentID string) ([]models.Slot, error) {
	return m.store.GetSlots(ctx, deploymentID)
}

// UpdateTrafficWeights sets the blue/green split. The pair must sum to
// exactly 100; the store validates before writing.
func (m *Manager) UpdateTrafficWeights(ctx context.Context, deploymentID string, bluePercent, greenPercent int, actor string) error {
	if err := m.store.UpdateTrafficSplit(ctx, deploymentID, bluePercent, greenPercent); err != nil {
		return err
	}
	m.invalidate(deploymentID)

	m.bus.Publish(events.Event{
		Type:         events.TypeTrafficUpdated,
		DeploymentID: deploymentID,
		BluePercent:  bluePercent,
		GreenPercent: greenPercent,
		InitiatedBy:  actor,
	})
	m.audit.RecordAction(audit.EventTypeTrafficUpdated, deploymentID, actor,
		fmt.Sprintf("traffic split set to blue=%d green=%d", bluePercent, greenPercent), nil)

	logging.Info().
		Str("deployment_id", deploymentID).
		Int("blue", bluePercent).
		Int("green", greenPercent).
		Str("actor", actor).
		Msg("Traffic weights updated")
	return nil
}

// Rollback drains the failing slot and moves all traffic to its
// sibling. At most one rollback per deployment runs at a time; a
// concurrent attempt returns ErrRollbackInProgress. The sibling must be
// healthy or the rollback is rejected.
func (m *Manager) Rollback(ctx context.Context, deploymentID string, failing models.SlotName, initiatedBy, reason string) error {
	if err := database.ValidateDeploymentID(deploymentID); err != nil {
		metrics.Rollbacks.WithLabelValues(initiatedBy, "rejected").Inc()
		return err
	}
	if !failing.Valid() {
		metrics.Rollbacks.WithLabelValues(initiatedBy, "rejected").Inc()
		return fmt.Errorf("%w: %s/%s", database.ErrSlotNotFound, deploymentID, failing)
	}

	m.mu.Lock()
	if _, busy := m.inFlight[deploymentID]; busy {
		m.mu.Unlock()
		metrics.Rollbacks.WithLabelValues(initiatedBy, "rejected").Inc()
		return fmt.Errorf("%w: %s", ErrRollbackInProgress, deploymentID)
	}
	m.inFlight[deploymentID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inFlight, deploymentID)
		m.mu.Unlock()
	}()

	m.bus.Publish(events.Event{
		Type:         events.TypeRollbackStarted,
		DeploymentID: deploymentID,
		Slot:         failing,
		Reason:       reason,
		InitiatedBy:  initiatedBy,
	})

	if err := m.doRollback(ctx, deploymentID, failing); err != nil {
		metrics.Rollbacks.WithLabelValues(initiatedBy, outcomeFor(err)).Inc()
		m.bus.Publish(events.Event{
			Type:         events.TypeRollbackFailed,
			DeploymentID: deploymentID,
			Slot:         failing,
			Reason:       err.Error(),
			InitiatedBy:  initiatedBy,
		})
		m.audit.Record(&audit.Event{
			Type:         audit.EventTypeRollbackFailed,
			Severity:     audit.SeverityError,
			DeploymentID: deploymentID,
			Actor:        initiatedBy,
			Action:       fmt.Sprintf("rollback of %s failed: %v", failing, err),
			Details:      "{}",
		})
		logging.Error().Err(err).
			Str("deployment_id", deploymentID).
			Str("slot", string(failing)).
			Str("initiated_by", initiatedBy).
			Msg("Rollback failed")
		return err
	}

	metrics.Rollbacks.WithLabelValues(initiatedBy, "ok").Inc()
	m.invalidate(deploymentID)

	target := failing.Sibling()
	m.bus.Publish(events.Event{
		Type:         events.TypeRollbackCompleted,
		DeploymentID: deploymentID,
		Slot:         failing,
		BluePercent:  weightAfterRollback(models.SlotBlue, failing),
		GreenPercent: weightAfterRollback(models.SlotGreen, failing),
		Reason:       reason,
		InitiatedBy:  initiatedBy,
	})
	m.audit.Record(&audit.Event{
		Type:         audit.EventTypeRollback,
		Severity:     audit.SeverityWarning,
		DeploymentID: deploymentID,
		Actor:        initiatedBy,
		Action:       fmt.Sprintf("rolled back %s, all traffic now on %s (%s)", failing, target, reason),
		Details:      "{}",
	})

	logging.Warn().
		Str("deployment_id", deploymentID).
		Str("failing_slot", string(failing)).
		Str("target_slot", string(target)).
		Str("initiated_by", initiatedBy).
		Str("reason", reason).
		Msg("Rollback completed")
	return nil
}

// doRollback checks preconditions and performs the atomic traffic move.
func (m *Manager) doRollback(ctx context.Context, deploymentID string, failing models.SlotName) error {
	slots, err := m.store.GetSlots(ctx, deploymentID)
	if err != nil {
		return err
	}

	var sibling *models.Slot
	for i := range slots {
		if slots[i].Name == failing.Sibling() {
			sibling = &slots[i]
		}
	}
	if sibling == nil {
		return fmt.Errorf("%w: %s/%s", database.ErrSlotNotFound, deploymentID, failing.Sibling())
	}
	// The target must have been probed healthy; an unknown sibling is
	// just as unsafe a rollback target as an unhealthy one.
	if sibling.Health != models.HealthHealthy {
		return fmt.Errorf("%w: %s is %s", ErrNoHealthySlot, sibling.Name, sibling.Health)
	}

	return m.store.RollbackTraffic(ctx, deploymentID, failing)
}

// PromoteSlot moves all traffic to one slot and marks it active. Unlike
// rollback, promotion is an ordinary operator action with no in-flight
// guard: the last write wins.
func (m *Manager) PromoteSlot(ctx context.Context, deploymentID string, target models.SlotName, actor string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %s/%s", database.ErrSlotNotFound, deploymentID, target)
	}

	blue, green := 100, 0
	if target == models.SlotGreen {
		blue, green = 0, 100
	}
	if err := m.store.UpdateTrafficSplit(ctx, deploymentID, blue, green); err != nil {
		return err
	}
	if err := m.store.UpdateSlotStatus(ctx, deploymentID, target, models.SlotStatusActive); err != nil {
		return err
	}
	if err := m.store.UpdateSlotStatus(ctx, deploymentID, target.Sibling(), models.SlotStatusInactive); err != nil {
		return err
	}
	m.invalidate(deploymentID)

	m.bus.Publish(events.Event{
		Type:         events.TypeTrafficUpdated,
		DeploymentID: deploymentID,
		Slot:         target,
		BluePercent:  blue,
		GreenPercent: green,
		InitiatedBy:  actor,
	})
	m.audit.RecordAction(audit.EventTypePromotion, deploymentID, actor,
		fmt.Sprintf("slot %s promoted to 100%% traffic", target), nil)

	logging.Info().
		Str("deployment_id", deploymentID).
		Str("slot", string(target)).
		Str("actor", actor).
		Msg("Slot promoted")
	return nil
}

// UpdateStatus sets the overall deployment status.
func (m *Manager) UpdateStatus(ctx context.Context, deploymentID string, status models.DeploymentStatus) error {
	return m.store.UpdateDeploymentStatus(ctx, deploymentID, status)
}

func weightAfterRollback(slot, failing models.SlotName) int {
	if slot == failing {
		return 0
	}
	return 100
}

func outcomeFor(err error) string {
	if errors.Is(err, ErrNoHealthySlot) {
		return "rejected"
	}
	return "error"
}
