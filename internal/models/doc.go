// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package models defines the shared domain types for the orchestration
// engine: deployments, blue/green slots, alert rules, metric aggregates,
// and routing decisions. Types here are plain data carriers; behavior
// lives in the component packages that own them.
package models
