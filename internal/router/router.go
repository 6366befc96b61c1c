// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package router implements weighted blue/green traffic selection with
// sticky sessions, canary access, and explicit slot or version pinning.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/switchyardhq/switchyard/internal/cache"
	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/metrics"
	"github.com/switchyardhq/switchyard/internal/models"
)

var (
	// ErrNoActiveSlot means neither slot can serve traffic.
	ErrNoActiveSlot = errors.New("no active slot available for deployment")
	// ErrUnknownSlot means an explicit slot override named a slot that
	// does not exist on this deployment.
	ErrUnknownSlot = errors.New("unknown slot name")
	// ErrVersionNotFound means no slot carries the requested version.
	ErrVersionNotFound = errors.New("no slot serves the requested version")
)

// SlotStore is the persistence surface the router reads slots from.
type SlotStore interface {
	GetSlots(ctx context.Context, deploymentID string) ([]models.Slot, error)
}

// Config holds router tuning.
type Config struct {
	// SlotCacheTTL bounds how stale cached slot metadata may be.
	SlotCacheTTL time.Duration
	// SessionTTL bounds how long sticky affinity holds.
	SessionTTL time.Duration
	// SessionCapacity bounds the sticky LRU.
	SessionCapacity int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SlotCacheTTL:    10 * time.Second,
		SessionTTL:      5 * time.Minute,
		SessionCapacity: 50000,
	}
}

// Router selects a slot for each incoming request. Selection order:
// explicit slot override, exact version match, beta access, sticky
// session, weighted random, active fallback.
type Router struct {
	store    SlotStore
	slots    *cache.Cache
	sessions *cache.LRUCache

	// intn is injectable for deterministic tests.
	intn func(n int) int
}

// New creates a router backed by the given slot store.
func New(store SlotStore, cfg Config) *Router {
	if cfg.SlotCacheTTL <= 0 {
		cfg.SlotCacheTTL = 10 * time.Second
	}
	return &Router{
		store:    store,
		slots:    cache.New(cfg.SlotCacheTTL),
		sessions: cache.NewLRUCache(cfg.SessionCapacity, cfg.SessionTTL),
		intn:     rand.IntN,
	}
}

func slotCacheKey(deploymentID string) string {
	return deploymentID + "|slots"
}

func stickyCacheKey(deploymentID, sticky string) string {
	return deploymentID + "|session|" + sticky
}

// Route picks the slot that should serve this request.
func (r *Router) Route(ctx context.Context, deploymentID string, req models.RouteRequest) (*models.RouteDecision, error) {
	slots, err := r.getSlots(ctx, deploymentID)
	if err != nil {
		metrics.RoutingFailures.Inc()
		return nil, err
	}

	// Explicit override wins even over zero-traffic slots so operators
	// can probe an idle slot directly.
	if req.SlotOverride != "" {
		name := models.SlotName(req.SlotOverride)
		if !name.Valid() {
			metrics.RoutingFailures.Inc()
			return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, req.SlotOverride)
		}
		if slot := findSlot(slots, name); slot != nil {
			return r.decide(deploymentID, slot, models.RouteReasonOverride), nil
		}
		metrics.RoutingFailures.Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, req.SlotOverride)
	}

	if req.Version != "" {
		for i := range slots {
			if slots[i].Version == req.Version {
				return r.decide(deploymentID, &slots[i], models.RouteReasonVersion), nil
			}
		}
		metrics.RoutingFailures.Inc()
		return nil, fmt.Errorf("%w: %q", ErrVersionNotFound, req.Version)
	}

	// Beta access targets the canary slot when a partial split exists;
	// with a 100/0 split there is no canary and selection falls through.
	if req.Beta {
		if canary := canarySlot(slots); canary != nil {
			return r.decide(deploymentID, canary, models.RouteReasonBeta), nil
		}
	}

	sticky := req.StickyKey()
	if sticky != "" {
		if cached, ok := r.sessions.Get(stickyCacheKey(deploymentID, sticky)); ok {
			name := cached.(models.SlotName)
			if slot := findSlot(slots, name); slot != nil && slot.Routable() {
				return r.decide(deploymentID, slot, models.RouteReasonSticky), nil
			}
			// Affinity target can no longer serve; drop it and re-pick.
			r.sessions.Remove(stickyCacheKey(deploymentID, sticky))
		}
	}

	if slot := r.pickWeighted(slots); slot != nil {
		if sticky != "" {
			r.sessions.Add(stickyCacheKey(deploymentID, sticky), slot.Name)
		}
		return r.decide(deploymentID, slot, models.RouteReasonWeighted), nil
	}

	// Weights always sum to 100, but the weighted slot may be inactive
	// (e.g. draining mid-rollback). Fall back to any active slot.
	for i := range slots {
		if slots[i].Status == models.SlotStatusActive {
			if sticky != "" {
				r.sessions.Add(stickyCacheKey(deploymentID, sticky), slots[i].Name)
			}
			return r.decide(deploymentID, &slots[i], models.RouteReasonFallback), nil
		}
	}

	metrics.RoutingFailures.Inc()
	return nil, ErrNoActiveSlot
}

// decide builds the decision and records the outcome metric.
func (r *Router) decide(deploymentID string, slot *models.Slot, reason models.RouteReason) *models.RouteDecision {
	metrics.RoutingDecisions.WithLabelValues(string(reason)).Inc()
	return &models.RouteDecision{
		DeploymentID: deploymentID,
		Slot:         slot.Name,
		FrontendURL:  slot.FrontendURL,
		BackendURL:   slot.BackendURL,
		Version:      slot.Version,
		Reason:       reason,
	}
}

// getSlots reads slot metadata through the TTL cache.
func (r *Router) getSlots(ctx context.Context, deploymentID string) ([]models.Slot, error) {
	if cached, ok := r.slots.Get(slotCacheKey(deploymentID)); ok {
		metrics.SlotCacheHits.Inc()
		return cached.([]models.Slot), nil
	}
	metrics.SlotCacheMisses.Inc()

	slots, err := r.store.GetSlots(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	r.slots.Set(slotCacheKey(deploymentID), slots)
	return slots, nil
}

// pickWeighted draws from routable slots proportionally to their
// traffic percentages.
func (r *Router) pickWeighted(slots []models.Slot) *models.Slot {
	total := 0
	for i := range slots {
		if slots[i].Routable() {
			total += slots[i].TrafficPercent
		}
	}
	if total == 0 {
		return nil
	}

	roll := r.intn(total)
	for i := range slots {
		if !slots[i].Routable() {
			continue
		}
		roll -= slots[i].TrafficPercent
		if roll < 0 {
			return &slots[i]
		}
	}
	return nil
}

// canarySlot returns the slot receiving the smaller nonzero share of a
// partial split, or nil when traffic is all on one slot.
func canarySlot(slots []models.Slot) *models.Slot {
	var canary *models.Slot
	for i := range slots {
		s := &slots[i]
		if !s.Routable() || s.TrafficPercent >= 100 {
			continue
		}
		if canary == nil || s.TrafficPercent < canary.TrafficPercent {
			canary = s
		}
	}
	return canary
}

func findSlot(slots []models.Slot, name models.SlotName) *models.Slot {
	for i := range slots {
		if slots[i].Name == name {
			return &slots[i]
		}
	}
	return nil
}

// InvalidateDeployment drops all cached state for one deployment. Called
// when its weights, slot statuses, or health change.
func (r *Router) InvalidateDeployment(deploymentID string) {
	r.slots.DeletePrefix(deploymentID + "|slots")
	r.sessions.RemovePrefix(deploymentID + "|session|")
}

// CacheStats exposes slot cache counters for the diagnostics endpoint.
func (r *Router) CacheStats() cache.Stats {
	return r.slots.GetStats()
}

// WatchEvents consumes bus events that change routing state and
// invalidates the affected deployment. Runs until ctx is cancelled;
// implements suture.Service.
func (r *Router) WatchEvents(ctx context.Context, bus *events.Bus) error {
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("router event subscription failed: %w", err)
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev.Type {
			case events.TypeTrafficUpdated, events.TypeRollbackCompleted, events.TypeHealthChanged:
				r.InvalidateDeployment(ev.DeploymentID)
				logging.Debug().
					Str("deployment_id", ev.DeploymentID).
					Str("event", string(ev.Type)).
					Msg("Routing cache invalidated")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop releases the cache cleanup goroutine.
func (r *Router) Stop() {
	r.slots.Stop()
}
