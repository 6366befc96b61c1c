// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package models

import "time"

// DeploymentStatus is the overall lifecycle state of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusPending   DeploymentStatus = "pending"
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusFailed    DeploymentStatus = "failed"
	DeploymentStatusStopped   DeploymentStatus = "stopped"
)

// Deployment is one published package version-line. Each deployment owns
// exactly two slots (blue/green) whose traffic percentages sum to 100.
type Deployment struct {
	ID             string           `json:"id"`
	PackageRef     string           `json:"package_ref"`
	CurrentVersion string           `json:"current_version"`
	Status         DeploymentStatus `json:"status"`
	ActiveInstalls int              `json:"active_installs"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SlotName identifies one of the two parallel deployment slots.
type SlotName string

const (
	SlotBlue  SlotName = "blue"
	SlotGreen SlotName = "green"
)

// Valid reports whether the slot name is one of blue/green.
func (s SlotName) Valid() bool {
	return s == SlotBlue || s == SlotGreen
}

// Sibling returns the other slot of the pair.
func (s SlotName) Sibling() SlotName {
	if s == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// SlotStatus is the lifecycle state of a single slot.
type SlotStatus string

const (
	SlotStatusActive    SlotStatus = "active"
	SlotStatusInactive  SlotStatus = "inactive"
	SlotStatusDeploying SlotStatus = "deploying"
	SlotStatusFailed    SlotStatus = "failed"
	SlotStatusDraining  SlotStatus = "draining"
)

// HealthState is the probed health of a slot.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// Slot is one of the two parallel versions of a deployment. The traffic
// percentages of a deployment's two slots always sum to exactly 100.
type Slot struct {
	DeploymentID    string      `json:"deployment_id"`
	Name            SlotName    `json:"name"`
	Status          SlotStatus  `json:"status"`
	TrafficPercent  int         `json:"traffic_percent"`
	Version         string      `json:"version"`
	FrontendURL     string      `json:"frontend_url"`
	BackendURL      string      `json:"backend_url"`
	Health          HealthState `json:"health"`
	FailureCount    int         `json:"failure_count"`
	LastHealthCheck *time.Time  `json:"last_health_check,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Routable reports whether weighted selection may send traffic to the slot.
func (s *Slot) Routable() bool {
	return s.Status == SlotStatusActive && s.TrafficPercent > 0
}
