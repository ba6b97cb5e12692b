// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes used as metric labels.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeTimeout   = "timeout"
	OutcomeOpen      = "breaker_open"
	OutcomeSkipped   = "skipped"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_dispatch_attempts_total",
		Help: "Total handler attempts by target and outcome",
	}, []string{"target", "outcome"})

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wavesaga_dispatch_attempt_duration_seconds",
		Help:    "Handler attempt duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"target"})

	// breakerState is 0 closed, 1 half-open, 2 open.
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wavesaga_dispatch_breaker_state",
		Help: "Circuit breaker state per target (0=closed, 1=half-open, 2=open)",
	}, []string{"target"})
)

// RecordAttempt counts one attempt and its duration.
func RecordAttempt(target, outcome string, seconds float64) {
	attemptsTotal.WithLabelValues(target, outcome).Inc()
	if outcome != OutcomeSkipped {
		attemptDuration.WithLabelValues(target).Observe(seconds)
	}
}
