// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package health

import "github.com/switchyardhq/switchyard/internal/models"

// tracker is the hysteresis state machine for one probed slot. A slot
// only turns unhealthy after unhealthyThreshold consecutive failures
// and only recovers after healthyThreshold consecutive successes, so a
// single flapping probe never moves state.
type tracker struct {
	state                models.HealthState
	consecutiveFails     int
	consecutiveSuccesses int

	unhealthyThreshold int
	healthyThreshold   int
}

func newTracker(unhealthyThreshold, healthyThreshold int) *tracker {
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = 3
	}
	if healthyThreshold <= 0 {
		healthyThreshold = 2
	}
	return &tracker{
		state:              models.HealthUnknown,
		unhealthyThreshold: unhealthyThreshold,
		healthyThreshold:   healthyThreshold,
	}
}

// observe feeds one probe outcome into the state machine and reports
// whether the health state changed.
func (t *tracker) observe(success bool) (transitioned bool) {
	if success {
		t.consecutiveSuccesses++
		t.consecutiveFails = 0
		if t.state != models.HealthHealthy && t.consecutiveSuccesses >= t.healthyThreshold {
			t.state = models.HealthHealthy
			return true
		}
		return false
	}

	t.consecutiveFails++
	t.consecutiveSuccesses = 0
	if t.state != models.HealthUnhealthy && t.consecutiveFails >= t.unhealthyThreshold {
		t.state = models.HealthUnhealthy
		return true
	}
	return false
}
