// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package audit records operator and engine actions for forensic
// review: rollbacks, weight changes, alert rule changes, monitoring
// lifecycle. Writes are asynchronous so the hot paths never block on
// the audit trail.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/switchyardhq/switchyard/internal/logging"
)

// EventType categorizes audit events.
type EventType string

const (
	EventTypeDeploymentCreated EventType = "deployment.created"
	EventTypeRollback          EventType = "deployment.rollback"
	EventTypeRollbackFailed    EventType = "deployment.rollback_failed"
	EventTypePromotion         EventType = "deployment.promoted"
	EventTypeTrafficUpdated    EventType = "traffic.updated"
	EventTypeHealthChanged     EventType = "slot.health_changed"
	EventTypeMonitoringStart   EventType = "monitoring.started"
	EventTypeMonitoringStop    EventType = "monitoring.stopped"
	EventTypeAlertCreated      EventType = "alert.created"
	EventTypeAlertUpdated      EventType = "alert.updated"
	EventTypeAlertDeleted      EventType = "alert.deleted"
	EventTypeAlertTriggered    EventType = "alert.triggered"
	EventTypeAlertResolved     EventType = "alert.resolved"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is one audit trail entry.
type Event struct {
	Type         EventType `json:"type"`
	Severity     Severity  `json:"severity"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	// Details is a JSON object with event-specific fields.
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists audit events. Implemented by the database layer.
type Store interface {
	InsertAuditEvent(ctx context.Context, ev *Event) error
}

// Logger buffers audit events and writes them asynchronously.
type Logger struct {
	store     Store
	eventChan chan *Event
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates an audit logger with the given buffer size and
// starts its writer goroutine.
func NewLogger(store Store, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	l := &Logger{
		store:     store,
		eventChan: make(chan *Event, bufferSize),
		stopChan:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Record enqueues an event. When the buffer is full the event is
// dropped with a warning rather than blocking the caller.
func (l *Logger) Record(ev *Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}

	select {
	case l.eventChan <- ev:
	default:
		logging.Warn().Str("type", string(ev.Type)).Msg("Audit buffer full, dropping event")
	}
}

// RecordAction is a convenience for the common case.
func (l *Logger) RecordAction(eventType EventType, deploymentID, actor, action string, details map[string]interface{}) {
	detailsJSON := "{}"
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}
	l.Record(&Event{
		Type:         eventType,
		DeploymentID: deploymentID,
		Actor:        actor,
		Action:       action,
		Details:      detailsJSON,
	})
}

// Stop drains the buffer and stops the writer. Idempotent.
func (l *Logger) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

// writeLoop persists events until stopped, then drains the channel.
func (l *Logger) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case ev := <-l.eventChan:
			l.persist(ev)
		case <-l.stopChan:
			for {
				select {
				case ev := <-l.eventChan:
					l.persist(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) persist(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.InsertAuditEvent(ctx, ev); err != nil {
		logging.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to persist audit event")
	}
}
