// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sagasStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_saga_started_total",
		Help: "Saga executions started by type",
	}, []string{"type"})

	sagasFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_saga_finished_total",
		Help: "Saga executions finished by type and final state",
	}, []string{"type", "state"})

	sagasActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wavesaga_saga_active",
		Help: "Sagas currently being driven by this process",
	})

	milestoneDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wavesaga_saga_milestone_duration_seconds",
		Help:    "Time from milestone write to settled outcome, retries included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	}, []string{"type", "outcome"})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_saga_compensations_total",
		Help: "Milestone compensations by result",
	}, []string{"result"})

	abortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_saga_aborts_total",
		Help: "Saga abort requests accepted",
	})

	snapshotCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_saga_snapshot_cache_total",
		Help: "Saga snapshot cache lookups by result",
	}, []string{"result"})
)

// RecordSagaStarted counts an execution start.
func RecordSagaStarted(sagaType string) {
	sagasStarted.WithLabelValues(sagaType).Inc()
}

// RecordSagaFinished counts an execution reaching a finished state.
func RecordSagaFinished(sagaType string, state State) {
	sagasFinished.WithLabelValues(sagaType, string(state)).Inc()
}

// RecordMilestone observes one settled milestone.
func RecordMilestone(sagaType, outcome string, seconds float64) {
	milestoneDuration.WithLabelValues(sagaType, outcome).Observe(seconds)
}

// RecordCompensation counts one compensation result.
func RecordCompensation(result string) {
	compensationsTotal.WithLabelValues(result).Inc()
}

// RecordAbort counts an accepted abort.
func RecordAbort() {
	abortsTotal.Inc()
}
