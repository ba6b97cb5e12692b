// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for WAL operations
var (
	// walWritesTotal counts entries written, by kind.
	walWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_wal_writes_total",
		Help: "Total number of WAL entries written",
	}, []string{"kind"})

	// walDedupedWritesTotal counts writes answered with an existing entry.
	walDedupedWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_wal_deduped_writes_total",
		Help: "Total number of WAL writes that matched an existing series key",
	})

	// walWriteFailures counts failed WAL writes.
	walWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_wal_write_failures_total",
		Help: "Total number of failed WAL write operations",
	})

	// walTransitionsTotal counts status transitions.
	walTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavesaga_wal_transitions_total",
		Help: "Total number of WAL status transitions",
	}, []string{"from", "to"})

	// walInvalidTransitions counts rejected transitions.
	walInvalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_wal_invalid_transitions_total",
		Help: "Total number of rejected WAL status transitions",
	})

	// walRetriesScheduled counts schedule_retry calls.
	walRetriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_wal_retries_scheduled_total",
		Help: "Total number of WAL retries scheduled",
	})

	// walEntriesByStatus is the current number of entries per status.
	walEntriesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wavesaga_wal_entries",
		Help: "Current number of WAL entries by status",
	}, []string{"status"})

	// walWriteLatency measures WAL write latency.
	walWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wavesaga_wal_write_latency_seconds",
		Help:    "WAL write latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// walDBSizeBytes is the current BadgerDB database size.
	walDBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wavesaga_wal_db_size_bytes",
		Help: "BadgerDB database size in bytes",
	})

	// walCompactionsTotal counts total compaction runs.
	walCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_wal_compactions_total",
		Help: "Total number of WAL compaction runs",
	})

	// walEntriesCompacted counts entries removed during compaction.
	walEntriesCompacted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_wal_entries_compacted_total",
		Help: "Total number of entries removed during compaction",
	})

	// walCompactionLatency measures compaction latency.
	walCompactionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wavesaga_wal_compaction_latency_seconds",
		Help:    "WAL compaction latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// walGCLatency measures BadgerDB value log GC latency.
	walGCLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wavesaga_wal_gc_latency_seconds",
		Help:    "BadgerDB value log GC latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// walGCRuns counts total GC runs.
	walGCRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavesaga_wal_gc_runs_total",
		Help: "Total number of BadgerDB value log GC runs",
	})
)

// RecordWALWrite increments the write counter for kind.
func RecordWALWrite(kind Kind) {
	walWritesTotal.WithLabelValues(string(kind)).Inc()
}

// RecordWALDedupedWrite increments the deduplicated write counter.
func RecordWALDedupedWrite() {
	walDedupedWritesTotal.Inc()
}

// RecordWALWriteFailure increments the write failure counter.
func RecordWALWriteFailure() {
	walWriteFailures.Inc()
}

// RecordWALTransition counts a status transition.
func RecordWALTransition(from, to Status) {
	walTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// RecordWALInvalidTransition increments the rejected transition counter.
func RecordWALInvalidTransition() {
	walInvalidTransitions.Inc()
}

// RecordWALRetryScheduled increments the retry counter.
func RecordWALRetryScheduled() {
	walRetriesScheduled.Inc()
}

// UpdateWALEntries sets the per-status entry gauges.
func UpdateWALEntries(byStatus map[Status]int64) {
	for _, s := range AllStatuses {
		walEntriesByStatus.WithLabelValues(string(s)).Set(float64(byStatus[s]))
	}
}

// RecordWALWriteLatency records a write latency measurement.
func RecordWALWriteLatency(seconds float64) {
	walWriteLatency.Observe(seconds)
}

// UpdateWALDBSize sets the database size gauge.
func UpdateWALDBSize(bytes int64) {
	walDBSizeBytes.Set(float64(bytes))
}

// RecordWALCompaction increments the compaction counter.
func RecordWALCompaction() {
	walCompactionsTotal.Inc()
}

// RecordWALEntriesCompacted adds to the compacted entries counter.
func RecordWALEntriesCompacted(count int64) {
	walEntriesCompacted.Add(float64(count))
}

// RecordWALCompactionLatency records a compaction latency measurement.
func RecordWALCompactionLatency(seconds float64) {
	walCompactionLatency.Observe(seconds)
}

// RecordWALGCLatency records a GC latency measurement.
func RecordWALGCLatency(seconds float64) {
	walGCLatency.Observe(seconds)
}

// RecordWALGCRun increments the GC run counter.
func RecordWALGCRun() {
	walGCRuns.Inc()
}
