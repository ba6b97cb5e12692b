// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wave

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wavesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_wave_finished_total",
		Help: "Waves finished by final status",
	}, []string{"status"})

	gateEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_wave_gate_evaluations_total",
		Help: "Quality gate evaluations by gate and result",
	}, []string{"gate", "result"})

	itemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_wave_items_total",
		Help: "Wave items processed by outcome",
	}, []string{"outcome"})
)

// RecordWaveFinished counts a wave reaching a finished status.
func RecordWaveFinished(status Status) {
	wavesFinished.WithLabelValues(string(status)).Inc()
}

// RecordGates counts gate results.
func RecordGates(results []GateResult) {
	for _, r := range results {
		result := "passed"
		if !r.Passed {
			result = "failed"
		}
		gateEvaluations.WithLabelValues(string(r.Gate), result).Inc()
	}
}

// RecordItems counts processed items.
func RecordItems(m Metrics) {
	itemsProcessed.WithLabelValues("succeeded").Add(float64(m.Succeeded))
	itemsProcessed.WithLabelValues("failed").Add(float64(m.Failed))
}
