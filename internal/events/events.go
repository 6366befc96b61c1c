// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package events is the in-process event port of the engine. Health
// transitions, alert firings, traffic changes, and rollbacks are
// published here; the router's cache invalidator, the websocket hub,
// and any test observer subscribe. The bus carries events between
// goroutines of one process only — durable state lives in the store.
package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/models"
)

// Topic is the single engine event topic.
const Topic = "engine.events"

// Type identifies what happened.
type Type string

const (
	TypeDeploymentCreated Type = "deployment.created"
	TypeHealthChanged     Type = "slot.health_changed"
	TypeAlertTriggered    Type = "alert.triggered"
	TypeAlertResolved     Type = "alert.resolved"
	TypeRollbackStarted   Type = "rollback.started"
	TypeRollbackCompleted Type = "rollback.completed"
	TypeRollbackFailed    Type = "rollback.failed"
	TypeTrafficUpdated    Type = "traffic.updated"
)

// Event is the payload published on the bus.
type Event struct {
	Type         Type      `json:"type"`
	DeploymentID string    `json:"deployment_id"`
	OccurredAt   time.Time `json:"occurred_at"`

	// Slot fields are set for health and rollback events.
	Slot   models.SlotName    `json:"slot,omitempty"`
	Health models.HealthState `json:"health,omitempty"`

	// Traffic fields are set for traffic.updated and rollback.completed.
	BluePercent  int `json:"blue_percent,omitempty"`
	GreenPercent int `json:"green_percent,omitempty"`

	// Alert fields are set for alert events.
	AlertID   string `json:"alert_id,omitempty"`
	AlertName string `json:"alert_name,omitempty"`

	// Reason carries the operator- or engine-supplied explanation.
	Reason string `json:"reason,omitempty"`

	// InitiatedBy names the actor for rollback/traffic events.
	InitiatedBy string `json:"initiated_by,omitempty"`
}

// Bus wraps a watermill gochannel Pub/Sub with typed publish/subscribe.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates an in-process event bus.
func NewBus() *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, NewWatermillLogger()),
	}
}

// Publish emits an event to all current subscribers. Publishing never
// fails the caller's operation: errors are logged and dropped.
func (b *Bus) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode engine event")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(Topic, msg); err != nil {
		logging.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish engine event")
	}
}

// Subscribe returns a channel of decoded events. The channel closes
// when ctx is cancelled or the bus shuts down. Undecodable messages
// are acked and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Msg("Dropping undecodable engine event")
				msg.Ack()
				continue
			}
			msg.Ack()

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
