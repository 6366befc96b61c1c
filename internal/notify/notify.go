// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package notify delivers alert events to configured channels. Each
// destination is guarded by its own circuit breaker so one dead webhook
// endpoint cannot block deliveries to the others, and all outbound
// sends share a rate limiter.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/metrics"
	"github.com/switchyardhq/switchyard/internal/models"
)

// ErrUnsupportedChannel is returned for channel types the notifier
// does not know how to deliver.
var ErrUnsupportedChannel = errors.New("unsupported notification channel type")

// Config holds notifier tuning.
type Config struct {
	HTTPTimeout time.Duration
	// RatePerSecond caps outbound sends across all channels; 0 disables
	// the limiter.
	RatePerSecond float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:   10 * time.Second,
		RatePerSecond: 5,
	}
}

// Notifier fans alert events out to slack, webhook, and email channels.
type Notifier struct {
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// New creates a notifier.
func New(cfg Config) *Notifier {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1)
	}
	return &Notifier{
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:  limiter,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Send delivers one alert event to one channel. The error reports the
// delivery outcome to the caller; isolation between channels is the
// caller's concern (the alert engine fans out in parallel).
func (n *Notifier) Send(ctx context.Context, ch models.NotificationChannel, ev models.AlertEvent) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			metrics.NotificationSends.WithLabelValues(string(ch.Type), "error").Inc()
			return fmt.Errorf("notification rate limit wait: %w", err)
		}
	}

	var err error
	switch ch.Type {
	case models.ChannelSlack:
		err = n.sendGuarded(ctx, ch, func() error { return n.sendSlack(ctx, ch, ev) })
	case models.ChannelWebhook:
		err = n.sendGuarded(ctx, ch, func() error { return n.sendWebhook(ctx, ch, ev) })
	case models.ChannelEmail:
		// SMTP delivery is handled by an external relay; the engine
		// records the outgoing message.
		n.sendEmail(ch, ev)
	default:
		metrics.NotificationSends.WithLabelValues(string(ch.Type), "error").Inc()
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, ch.Type)
	}

	switch {
	case err == nil:
		metrics.NotificationSends.WithLabelValues(string(ch.Type), "ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotificationSends.WithLabelValues(string(ch.Type), "breaker_open").Inc()
	default:
		metrics.NotificationSends.WithLabelValues(string(ch.Type), "error").Inc()
	}
	return err
}

// sendGuarded runs one HTTP delivery through the destination's breaker.
func (n *Notifier) sendGuarded(_ context.Context, ch models.NotificationChannel, fn func() error) error {
	cb := n.breakerFor(ch.Target)
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// breakerFor returns (creating on first use) the breaker guarding one
// destination URL.
func (n *Notifier) breakerFor(target string) *gobreaker.CircuitBreaker[struct{}] {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cb, ok := n.breakers[target]; ok {
		return cb
	}

	metrics.BreakerState.WithLabelValues(target).Set(0)
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        target,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("destination", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Notification breaker state changed")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	n.breakers[target] = cb
	return cb
}

// slackMessage is an incoming-webhook payload: a summary line plus one
// attachment carrying the structured alert fields.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (n *Notifier) sendSlack(ctx context.Context, ch models.NotificationChannel, ev models.AlertEvent) error {
	payload, err := json.Marshal(slackMessage{
		Text:        formatSlackText(ev),
		Attachments: []slackAttachment{slackAttachmentFor(ev)},
	})
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}
	return n.post(ctx, ch.Target, payload, nil)
}

// slackAttachmentFor renders the alert's condition, current value,
// threshold, and severity as attachment fields.
func slackAttachmentFor(ev models.AlertEvent) slackAttachment {
	title := fmt.Sprintf("Alert: %s", ev.AlertName)
	if ev.Resolved {
		title = fmt.Sprintf("Resolved: %s", ev.AlertName)
	}
	return slackAttachment{
		Color: slackColor(ev),
		Title: title,
		Fields: []slackField{
			{Title: "Condition", Value: fmt.Sprintf("%s %s %.4g", ev.Metric, ev.Operator, ev.Threshold), Short: true},
			{Title: "Current Value", Value: fmt.Sprintf("%.4g", ev.Value), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("%.4g", ev.Threshold), Short: true},
			{Title: "Severity", Value: string(ev.Severity), Short: true},
			{Title: "Deployment", Value: ev.DeploymentID, Short: false},
		},
		Ts: ev.OccurredAt.Unix(),
	}
}

func slackColor(ev models.AlertEvent) string {
	switch {
	case ev.Resolved:
		return "good"
	case ev.Severity == models.SeverityCritical:
		return "danger"
	case ev.Severity == models.SeverityWarning:
		return "warning"
	default:
		return "#439fe0"
	}
}

func (n *Notifier) sendWebhook(ctx context.Context, ch models.NotificationChannel, ev models.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	return n.post(ctx, ch.Target, payload, ch.Headers)
}

func (n *Notifier) sendEmail(ch models.NotificationChannel, ev models.AlertEvent) {
	logging.Info().
		Str("to", ch.Target).
		Str("alert", ev.AlertName).
		Str("deployment_id", ev.DeploymentID).
		Str("severity", string(ev.Severity)).
		Bool("resolved", ev.Resolved).
		Msg("Email notification queued")
}

// post performs one JSON POST delivery. Any non-2xx response is a
// delivery failure so the breaker sees it.
func (n *Notifier) post(ctx context.Context, url string, payload []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "switchyard-notify/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification delivery failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// formatSlackText renders the alert event as a one-line Slack message.
func formatSlackText(ev models.AlertEvent) string {
	if ev.Resolved {
		return fmt.Sprintf(":white_check_mark: Resolved: %s on deployment %s (%s %s %.4g, last value %.4g)",
			ev.AlertName, ev.DeploymentID, ev.Metric, ev.Operator, ev.Threshold, ev.Value)
	}

	icon := ":warning:"
	if ev.Severity == models.SeverityCritical {
		icon = ":rotating_light:"
	}
	return fmt.Sprintf("%s %s [%s]: %s %s %.4g on deployment %s (value %.4g)",
		icon, ev.AlertName, ev.Severity, ev.Metric, ev.Operator, ev.Threshold, ev.DeploymentID, ev.Value)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
