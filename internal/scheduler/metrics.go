// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSucceeded   = "succeeded"
	outcomeRescheduled = "rescheduled"
	outcomeFailed      = "failed"
	outcomeExhausted   = "exhausted"
	outcomeExpired     = "expired"
	outcomeError       = "error"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_scheduler_retries_total",
		Help: "Due retries processed by outcome",
	}, []string{"outcome"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wavesaga_scheduler_scan_duration_seconds",
		Help:    "Time to process one batch of due retries",
		Buckets: prometheus.DefBuckets,
	})

	dueEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wavesaga_scheduler_due_entries",
		Help: "Entries found due in the last scan",
	})

	recoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_scheduler_recovered_entries_total",
		Help: "Entries handled by startup recovery by result",
	}, []string{"result"})
)

// RecordOutcome counts one processed retry.
func RecordOutcome(outcome string) {
	retriesTotal.WithLabelValues(outcome).Inc()
}

// RecordScan records a completed scan.
func RecordScan(due int, seconds float64) {
	dueEntries.Set(float64(due))
	scanDuration.Observe(seconds)
}

// RecordRecovered counts entries handled by RecoverInFlight.
func RecordRecovered(result string, n int) {
	if n > 0 {
		recoveredTotal.WithLabelValues(result).Add(float64(n))
	}
}
