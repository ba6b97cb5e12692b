// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wavesaga_queue_publish_total",
	Help: "Queue publishes by backend and result",
}, []string{"backend", "result"})

// RecordPublish counts one publish attempt.
func RecordPublish(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishTotal.WithLabelValues(backend, result).Inc()
}
