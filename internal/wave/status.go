// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wave

import (
	"context"
	"fmt"

	"github.com/tomtom215/wavesaga/internal/wal"
)

// BatchStatus is one batch as its WAL entries record it.
type BatchStatus struct {
	Batch     int    `json:"batch"`
	Milestone string `json:"milestone"`
	Items     int    `json:"items"`

	ForwardLogID  string     `json:"forward_log_id,omitempty"`
	ForwardStatus wal.Status `json:"forward_status,omitempty"`
	Attempts      int        `json:"attempts"`

	CompensationLogID  string     `json:"compensation_log_id,omitempty"`
	CompensationStatus wal.Status `json:"compensation_status,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// Snapshot is a read-only view of a wave and its WAL entries.
type Snapshot struct {
	Wave    *Wave              `json:"wave"`
	Batches []BatchStatus      `json:"batches"`
	Entries map[wal.Status]int `json:"entries"`
}

// GetWaveStatus projects the WAL entries written under the wave's
// correlation id onto its batches. Batches with no entries yet appear with
// empty statuses.
func (c *Controller) GetWaveStatus(ctx context.Context, waveID string) (*Snapshot, error) {
	w, err := c.repo.GetWave(ctx, waveID)
	if err != nil {
		return nil, err
	}
	entries, err := c.journal.ByCorrelation(ctx, w.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("wave %s entries: %w", waveID, err)
	}

	n := w.Batches()
	snap := &Snapshot{
		Wave:    w,
		Batches: make([]BatchStatus, n),
		Entries: make(map[wal.Status]int),
	}
	for b := range snap.Batches {
		lo := b * w.BatchSize
		snap.Batches[b] = BatchStatus{
			Batch:     b,
			Milestone: BatchName(b),
			Items:     min(w.BatchSize, len(w.CandidateIDs)-lo),
		}
	}

	for _, e := range entries {
		snap.Entries[e.Status]++

		b := e.Sequence
		if b < 0 {
			b = -b
		}
		b--
		if b < 0 || b >= n {
			continue
		}
		bs := &snap.Batches[b]
		switch e.Kind {
		case wal.KindForward:
			bs.ForwardLogID = e.LogID
			bs.ForwardStatus = e.Status
			bs.Attempts = e.AttemptCount
		case wal.KindCompensation:
			bs.CompensationLogID = e.LogID
			bs.CompensationStatus = e.Status
		}
		if e.LastError != "" {
			bs.LastError = e.LastError
		}
	}
	return snap, nil
}
