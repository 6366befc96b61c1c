// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package database

import (
	"errors"
	"io"

	"github.com/switchyardhq/switchyard/internal/logging"
)

// Named failure conditions shared across the engine. Components compare
// with errors.Is so wrapping is safe.
var (
	// ErrInvalidDeploymentID means the supplied id is not a well-formed UUID.
	ErrInvalidDeploymentID = errors.New("invalid deployment id format")

	// ErrDeploymentNotFound means no deployment row exists for the id.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrSlotNotFound means the deployment has no slot with the given name.
	ErrSlotNotFound = errors.New("slot not found for deployment")

	// ErrAlertNotFound means no alert rule exists for the id.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidTrafficSplit means a weight pair is outside [0,100] or
	// does not sum to exactly 100. Raised before any write.
	ErrInvalidTrafficSplit = errors.New("traffic percentages must be in [0,100] and sum to 100")
)

// closeQuietly closes a resource and explicitly ignores any error.
// Used in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// closeWithLog closes a resource and logs any error.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}
