// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// probeResult is the outcome of one HTTP health probe.
type probeResult struct {
	Success bool
	Latency time.Duration
	// FailReason is "timeout", "request", "status", or "body".
	FailReason string
	Detail     string
}

// healthBody is the optional JSON payload a slot backend may return.
// A 200 response whose body declares a non-healthy status still counts
// as a failed probe.
type healthBody struct {
	Status string `json:"status"`
}

const maxProbeBodyBytes = 4096

// probe performs one health check against url within timeout.
func probe(ctx context.Context, client *http.Client, url string, timeout time.Duration) probeResult {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return probeResult{FailReason: "request", Detail: err.Error(), Latency: time.Since(start)}
	}
	req.Header.Set("User-Agent", "switchyard-health/1.0")

	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		reason := "request"
		if errors.Is(err, context.DeadlineExceeded) || probeCtx.Err() != nil {
			reason = "timeout"
		}
		return probeResult{FailReason: reason, Detail: err.Error(), Latency: latency}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return probeResult{
			FailReason: "status",
			Detail:     fmt.Sprintf("status %d", resp.StatusCode),
			Latency:    latency,
		}
	}

	// Bodies that are not JSON status documents are ignored; only an
	// explicit non-healthy status overrides the 2xx result.
	var hb healthBody
	if err := json.Unmarshal(body, &hb); err == nil && hb.Status != "" {
		switch strings.ToLower(hb.Status) {
		case "ok", "healthy", "up":
		default:
			return probeResult{
				FailReason: "body",
				Detail:     fmt.Sprintf("reported status %q", hb.Status),
				Latency:    latency,
			}
		}
	}

	return probeResult{Success: true, Latency: latency}
}
