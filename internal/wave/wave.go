// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package wave migrates large item sets in gated batches.
//
// A wave partitions its candidate items into batches and runs them as the
// milestones of one saga. Once every batch completes, the wave's quality
// gates are evaluated over the aggregated batch outcomes. Passing gates
// commit the wave; a failing gate triggers compensation of the whole saga
// even though it completed, and the wave ends rolled back.
//
//	planned -> executing -> quality_check -> committed
//	                                      -> rollback -> rolled_back | rollback_failed
//	          executing -> rolled_back | rollback_failed   (a batch failed)
//	                       committed -> rollback            (RollbackWave)
//	planned -> rolled_back                                  (RollbackWave before execution)
//
// Committed is the one finished state that can change again: RollbackWave
// compensates a committed wave on operator request. Rolled back and rollback
// failed waves are never modified.
package wave

import (
	"errors"
	"time"

	"github.com/tomtom215/wavesaga/internal/saga"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// Status is the lifecycle state of a wave.
type Status string

const (
	StatusPlanned        Status = "planned"
	StatusExecuting      Status = "executing"
	StatusQualityCheck   Status = "quality_check"
	StatusCommitted      Status = "committed"
	StatusRollback       Status = "rollback"
	StatusRolledBack     Status = "rolled_back"
	StatusRollbackFailed Status = "rollback_failed"
)

// Finished reports whether nothing more will happen to the wave on its own.
func (s Status) Finished() bool {
	return s == StatusCommitted || s == StatusRolledBack || s == StatusRollbackFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusExecuting, StatusQualityCheck, StatusCommitted,
		StatusRollback, StatusRolledBack, StatusRollbackFailed:
		return true
	}
	return false
}

var (
	// ErrWaveNotFound is returned when no wave has the given id.
	ErrWaveNotFound = errors.New("wave not found")

	// ErrInvalidState is returned when an operation does not apply to the
	// wave's current state.
	ErrInvalidState = errors.New("invalid wave state")

	// ErrWaveBusy is returned when another call is already driving the wave.
	ErrWaveBusy = errors.New("wave is busy")
)

// CreateRequest describes a new wave.
type CreateRequest struct {
	WaveNumber   int    `json:"wave_number" validate:"gte=0"`
	Name         string `json:"name" validate:"omitempty,keysafe,max=256"`
	Description  string `json:"description" validate:"max=4096"`
	TargetSystem string `json:"target_system" validate:"required,target,max=200"`

	// BatchSize is the number of items per batch. Zero uses the configured default.
	BatchSize int `json:"batch_size" validate:"gte=0,lte=100000"`

	CandidateIDs []string      `json:"candidate_ids" validate:"required,min=1,unique,dive,required,max=512"`
	QualityGates []QualityGate `json:"quality_gates" validate:"dive"`

	// Lifecycle overrides the WAL default retry policy for batch entries.
	Lifecycle *wal.Lifecycle `json:"lifecycle,omitempty"`

	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
}

// Wave is one gated batch migration.
type Wave struct {
	ID           string         `json:"wave_id"`
	WaveNumber   int            `json:"wave_number"`
	Name         string         `json:"name,omitempty"`
	Description  string         `json:"description,omitempty"`
	TargetSystem string         `json:"target_system"`
	BatchSize    int            `json:"batch_size"`
	CandidateIDs []string       `json:"candidate_ids"`
	QualityGates []QualityGate  `json:"quality_gates"`
	Lifecycle    *wal.Lifecycle `json:"lifecycle,omitempty"`
	Status       Status         `json:"status"`

	// CorrelationID groups every WAL entry of the wave's saga.
	CorrelationID string `json:"saga_correlation_id"`
	SagaID        string `json:"saga_id,omitempty"`

	Metrics     Metrics      `json:"metrics"`
	GateResults []GateResult `json:"quality_gate_results,omitempty"`
	Error       string       `json:"error,omitempty"`

	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Batches returns the number of batches the wave runs.
func (w *Wave) Batches() int {
	if w.BatchSize <= 0 {
		return 0
	}
	return (len(w.CandidateIDs) + w.BatchSize - 1) / w.BatchSize
}

// Clone returns a deep copy.
func (w *Wave) Clone() *Wave {
	c := *w
	c.CandidateIDs = append([]string(nil), w.CandidateIDs...)
	c.QualityGates = append([]QualityGate(nil), w.QualityGates...)
	c.GateResults = append([]GateResult(nil), w.GateResults...)
	if w.Lifecycle != nil {
		lc := *w.Lifecycle
		c.Lifecycle = &lc
	}
	c.ScheduledStart = cloneTime(w.ScheduledStart)
	c.ScheduledEnd = cloneTime(w.ScheduledEnd)
	c.StartedAt = cloneTime(w.StartedAt)
	c.CompletedAt = cloneTime(w.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ExecuteResult is returned by ExecuteWave and RollbackWave.
type ExecuteResult struct {
	WaveID             string       `json:"wave_id"`
	Status             Status       `json:"status"`
	QualityGateResults []GateResult `json:"quality_gate_results"`
	Metrics            Metrics      `json:"metrics"`
	Saga               *saga.Result `json:"saga,omitempty"`
	Error              string       `json:"error,omitempty"`
}

// BatchInput is the milestone input of each batch.
type BatchInput struct {
	WaveID  string   `json:"wave_id"`
	Batch   int      `json:"batch"`
	ItemIDs []string `json:"item_ids"`
}
