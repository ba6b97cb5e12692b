// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package api

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status string            `json:"status"`
	Uptime float64           `json:"uptime_seconds"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthLive handles GET /api/v1/health/live. It only proves the process
// is serving.
func (rt *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, HealthStatus{
		Status: "alive",
		Uptime: time.Since(rt.startTime).Seconds(),
	})
}

// HealthReady handles GET /api/v1/health/ready: 200 when every check
// passes, 503 otherwise.
func (rt *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status: "ready",
		Uptime: time.Since(rt.startTime).Seconds(),
		Checks: make(map[string]string, len(rt.checks)),
	}
	code := http.StatusOK
	for _, c := range rt.checks {
		if err := c.Check(ctx); err != nil {
			status.Checks[c.Name] = err.Error()
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[c.Name] = "ok"
	}
	respondData(w, r, code, status)
}
