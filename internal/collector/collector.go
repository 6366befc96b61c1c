// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package collector buffers per-request performance samples in memory
// and periodically flushes aggregated statistics to the store. Raw
// samples exist only between flushes; reads aggregate the persisted
// periodic rows.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/metrics"
	"github.com/switchyardhq/switchyard/internal/models"
)

// Store is the persistence surface the collector needs.
type Store interface {
	InsertMetricRow(ctx context.Context, row *models.MetricRow) error
	QueryMetricRows(ctx context.Context, deploymentID string, from, to time.Time, slot models.SlotName) ([]models.MetricRow, error)
	DeleteMetricRowsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds collector tuning.
type Config struct {
	// FlushInterval is how often buffers are flushed to the store.
	FlushInterval time.Duration
	// MaxBufferSize is the per-buffer sample ceiling that forces an
	// early flush.
	MaxBufferSize int
	// RetentionDays is how long aggregate rows are kept.
	RetentionDays int
	// RetentionInterval is how often the retention sweep runs.
	RetentionInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval:     time.Minute,
		MaxBufferSize:     10000,
		RetentionDays:     90,
		RetentionInterval: 24 * time.Hour,
	}
}

// buffer accumulates raw samples for one deployment slot between flushes.
type buffer struct {
	deploymentID string
	slot         models.SlotName
	periodStart  time.Time

	latencies    []float64
	requestCount int64
	errorCount   int64
	users        map[string]struct{}
	sessions     map[string]struct{}
	cpuUsage     *float64
	memoryUsage  *float64
}

// Collector buffers request samples keyed by deployment+slot.
type Collector struct {
	store Store
	cfg   Config

	mu      sync.Mutex
	buffers map[string]*buffer
	stopped bool

	// now is injectable for deterministic tests.
	now func() time.Time
}

// New creates a collector. Call Serve (or periodic Flush) to drain it.
func New(store Store, cfg Config) *Collector {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 10000
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = 24 * time.Hour
	}
	return &Collector{
		store:   store,
		cfg:     cfg,
		buffers: make(map[string]*buffer),
		now:     time.Now,
	}
}

func bufferKey(deploymentID string, slot models.SlotName) string {
	return deploymentID + "|" + string(slot)
}

// RecordRequest is the hot path: it appends the sample to the slot's
// buffer without any I/O. When a buffer crosses the size ceiling it is
// flushed inline (swap under lock, persist outside it).
func (c *Collector) RecordRequest(sample models.RequestSample) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		metrics.SamplesDropped.Inc()
		return
	}

	key := bufferKey(sample.DeploymentID, sample.Slot)
	buf, ok := c.buffers[key]
	if !ok {
		buf = &buffer{
			deploymentID: sample.DeploymentID,
			slot:         sample.Slot,
			periodStart:  c.now().UTC(),
			users:        make(map[string]struct{}),
			sessions:     make(map[string]struct{}),
		}
		c.buffers[key] = buf
	}

	buf.latencies = append(buf.latencies, sample.LatencyMS)
	buf.requestCount++
	if sample.IsError {
		buf.errorCount++
	}
	if sample.UserID != "" {
		buf.users[sample.UserID] = struct{}{}
	}
	if sample.SessionID != "" {
		buf.sessions[sample.SessionID] = struct{}{}
	}
	metrics.BufferedSamples.Inc()

	var full *buffer
	if len(buf.latencies) >= c.cfg.MaxBufferSize {
		full = buf
		delete(c.buffers, key)
	}
	c.mu.Unlock()

	if full != nil {
		c.persistBuffer(context.Background(), full)
	}
}

// RecordResourceUsage attaches the latest resource readings to the
// slot's current buffer so the next flushed row carries them.
func (c *Collector) RecordResourceUsage(deploymentID string, slot models.SlotName, cpu, memory float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	key := bufferKey(deploymentID, slot)
	buf, ok := c.buffers[key]
	if !ok {
		buf = &buffer{
			deploymentID: deploymentID,
			slot:         slot,
			periodStart:  c.now().UTC(),
			users:        make(map[string]struct{}),
			sessions:     make(map[string]struct{}),
		}
		c.buffers[key] = buf
	}
	buf.cpuUsage = &cpu
	buf.memoryUsage = &memory
}

// Flush persists and clears every non-empty buffer. One bad buffer is
// logged and does not stop the others.
func (c *Collector) Flush(ctx context.Context) {
	start := time.Now()

	c.mu.Lock()
	drained := make([]*buffer, 0, len(c.buffers))
	for key, buf := range c.buffers {
		drained = append(drained, buf)
		delete(c.buffers, key)
	}
	c.mu.Unlock()

	for _, buf := range drained {
		c.persistBuffer(ctx, buf)
	}

	metrics.FlushDuration.Observe(time.Since(start).Seconds())
}

// persistBuffer aggregates one buffer into a MetricRow and writes it.
func (c *Collector) persistBuffer(ctx context.Context, buf *buffer) {
	if buf.requestCount == 0 && buf.cpuUsage == nil && buf.memoryUsage == nil {
		return
	}

	row := &models.MetricRow{
		DeploymentID: buf.deploymentID,
		Slot:         buf.slot,
		PeriodStart:  buf.periodStart,
		PeriodEnd:    c.now().UTC(),
		RequestCount: buf.requestCount,
		ErrorCount:   buf.errorCount,
		ActiveUsers:  len(buf.users),
		Sessions:     len(buf.sessions),
		CPUUsage:     buf.cpuUsage,
		MemoryUsage:  buf.memoryUsage,
	}

	if len(buf.latencies) > 0 {
		sorted := sortedCopy(buf.latencies)
		row.LatencyP50 = Percentile(sorted, 50)
		row.LatencyP95 = Percentile(sorted, 95)
		row.LatencyP99 = Percentile(sorted, 99)
		row.LatencyAvg = mean(buf.latencies)
	}

	metrics.BufferedSamples.Sub(float64(len(buf.latencies)))

	if err := c.store.InsertMetricRow(ctx, row); err != nil {
		logging.Error().Err(err).
			Str("deployment_id", buf.deploymentID).
			Str("slot", string(buf.slot)).
			Msg("Failed to persist metric row")
	}
}

// PendingSamples reports how many samples are buffered across all keys.
func (c *Collector) PendingSamples() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, buf := range c.buffers {
		total += len(buf.latencies)
	}
	return total
}

// RunRetention deletes aggregate rows older than the horizon.
func (c *Collector) RunRetention(ctx context.Context) error {
	cutoff := c.now().UTC().AddDate(0, 0, -c.cfg.RetentionDays)
	n, err := c.store.DeleteMetricRowsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("retention sweep failed: %w", err)
	}
	if n > 0 {
		metrics.RetentionDeletes.Add(float64(n))
		logging.Info().Int64("rows", n).Time("cutoff", cutoff).Msg("Retention removed expired metric rows")
	}
	return nil
}

// Serve implements suture.Service: flush on the configured interval,
// run retention sweeps, and drain everything on shutdown so the last
// partial window is never lost.
func (c *Collector) Serve(ctx context.Context) error {
	flushTicker := time.NewTicker(c.cfg.FlushInterval)
	defer flushTicker.Stop()
	retentionTicker := time.NewTicker(c.cfg.RetentionInterval)
	defer retentionTicker.Stop()

	logging.Info().
		Dur("flush_interval", c.cfg.FlushInterval).
		Int("max_buffer", c.cfg.MaxBufferSize).
		Msg("Metrics collector started")

	for {
		select {
		case <-flushTicker.C:
			c.Flush(ctx)
		case <-retentionTicker.C:
			if err := c.RunRetention(ctx); err != nil {
				logging.Error().Err(err).Msg("Retention sweep failed")
			}
		case <-ctx.Done():
			c.Shutdown()
			return ctx.Err()
		}
	}
}

// Shutdown flushes all buffers and refuses further samples. Idempotent.
func (c *Collector) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.flushLocked(shutdownCtx)
	logging.Info().Msg("Metrics collector stopped")
}

// flushLocked drains buffers after stopped is set; no new samples can
// race in.
func (c *Collector) flushLocked(ctx context.Context) {
	c.mu.Lock()
	drained := make([]*buffer, 0, len(c.buffers))
	for key, buf := range c.buffers {
		drained = append(drained, buf)
		delete(c.buffers, key)
	}
	c.mu.Unlock()

	for _, buf := range drained {
		c.persistBuffer(ctx, buf)
	}
}
