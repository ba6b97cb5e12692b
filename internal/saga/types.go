// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package saga

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/wal"
)

// State is the lifecycle state of a saga instance.
type State string

const (
	StateCreated            State = "created"
	StateRunning            State = "running"
	StateCompleted          State = "completed"
	StateCompensating       State = "compensating"
	StateCompensated        State = "compensated"
	StateCompensationFailed State = "compensation_failed"
)

// Finished reports whether execution has ended. A completed saga can still be
// compensated after the fact; the other finished states are final.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateCompensated || s == StateCompensationFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateRunning, StateCompleted, StateCompensating, StateCompensated, StateCompensationFailed:
		return true
	}
	return false
}

// MilestoneStatus is the status of one milestone within a saga run.
type MilestoneStatus string

const (
	MilestonePending            MilestoneStatus = "pending"
	MilestoneRunning            MilestoneStatus = "running"
	MilestoneCompleted          MilestoneStatus = "completed"
	MilestoneFailed             MilestoneStatus = "failed"
	MilestoneCompensating       MilestoneStatus = "compensating"
	MilestoneCompensated        MilestoneStatus = "compensated"
	MilestoneCompensationFailed MilestoneStatus = "compensation_failed"
	MilestoneSkipped            MilestoneStatus = "skipped"
)

// Failure reasons.
const (
	ReasonHandlerFailed    = "handler_failed"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonExpired          = "expired"
	ReasonAborted          = "aborted"
	ReasonRequested        = "requested"
)

// Milestone is one forward operation paired with the compensation that undoes it.
type Milestone struct {
	Name            string          `json:"name" validate:"required,keysafe,max=256"`
	ForwardRef      string          `json:"forward_ref" validate:"required,target,max=256"`
	CompensationRef string          `json:"compensation_ref" validate:"required,target,max=256"`
	Input           json.RawMessage `json:"input,omitempty"`

	// Lifecycle overrides the WAL default retry policy for this milestone.
	Lifecycle *wal.Lifecycle `json:"lifecycle,omitempty"`
}

// lifecycle resolves the milestone policy. A policy given on the milestone,
// even one holding only retry_count 0, is explicit and keeps its retry count.
func (m Milestone) lifecycle(def wal.Lifecycle) wal.Lifecycle {
	if m.Lifecycle == nil {
		return wal.Lifecycle{}
	}
	return m.Lifecycle.Merge(def)
}

// DesignRequest describes a saga to create.
type DesignRequest struct {
	// Type names the saga kind and is the WAL namespace of its entries.
	Type string `json:"type" validate:"required,keysafe,max=128"`

	// CorrelationID groups the saga's WAL entries. Defaults to the saga id.
	CorrelationID string `json:"correlation_id,omitempty" validate:"omitempty,keysafe,max=256"`

	Milestones []Milestone `json:"milestones" validate:"required,min=1,max=1000,dive"`
}

// MilestoneRecord tracks one milestone's execution.
type MilestoneRecord struct {
	Index             int             `json:"index"`
	Name              string          `json:"name"`
	Status            MilestoneStatus `json:"status"`
	ForwardLogID      string          `json:"forward_log_id,omitempty"`
	CompensationLogID string          `json:"compensation_log_id,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	Error             string          `json:"error,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CompensatedAt     *time.Time      `json:"compensated_at,omitempty"`
}

// ranForward reports whether the forward operation took effect.
func (r *MilestoneRecord) ranForward() bool {
	switch r.Status {
	case MilestoneCompleted, MilestoneCompensating, MilestoneCompensated, MilestoneCompensationFailed:
		return true
	}
	return false
}

// Failure describes why a saga left the forward path.
type Failure struct {
	Milestone string `json:"milestone,omitempty"`
	LogID     string `json:"log_id,omitempty"`
	Reason    string `json:"reason"`
	Error     string `json:"error,omitempty"`
}

// Instance is one saga execution and its milestone records.
type Instance struct {
	ID            string            `json:"saga_id"`
	Type          string            `json:"type"`
	CorrelationID string            `json:"correlation_id"`
	State         State             `json:"state"`
	Milestones    []Milestone       `json:"milestones"`
	Records       []MilestoneRecord `json:"records"`
	Context       json.RawMessage   `json:"context,omitempty"`

	// CompensationCursor is the index of the milestone being compensated,
	// or -1 when no compensation is in progress.
	CompensationCursor int `json:"compensation_cursor"`

	Failure             *Failure `json:"failure,omitempty"`
	CompensationFailure *Failure `json:"compensation_failure,omitempty"`
	AbortRequested      bool     `json:"abort_requested,omitempty"`
	TraceID             string   `json:"trace_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (in *Instance) Clone() *Instance {
	c := *in
	c.Milestones = make([]Milestone, len(in.Milestones))
	for i, m := range in.Milestones {
		m.Input = cloneRaw(m.Input)
		if m.Lifecycle != nil {
			lc := *m.Lifecycle
			m.Lifecycle = &lc
		}
		c.Milestones[i] = m
	}
	c.Records = make([]MilestoneRecord, len(in.Records))
	for i, r := range in.Records {
		r.Result = cloneRaw(r.Result)
		r.StartedAt = cloneTime(r.StartedAt)
		r.CompletedAt = cloneTime(r.CompletedAt)
		r.CompensatedAt = cloneTime(r.CompensatedAt)
		c.Records[i] = r
	}
	c.Context = cloneRaw(in.Context)
	if in.Failure != nil {
		f := *in.Failure
		c.Failure = &f
	}
	if in.CompensationFailure != nil {
		f := *in.CompensationFailure
		c.CompensationFailure = &f
	}
	c.StartedAt = cloneTime(in.StartedAt)
	c.CompletedAt = cloneTime(in.CompletedAt)
	return &c
}

// Result is the terminal status object returned to callers.
type Result struct {
	SagaID              string   `json:"saga_id"`
	Status              State    `json:"status"`
	Completed           []string `json:"completed_milestones"`
	Failed              []string `json:"failed_milestones"`
	Compensated         []string `json:"compensated_milestones"`
	Skipped             []string `json:"skipped_milestones"`
	Failure             *Failure `json:"failure,omitempty"`
	CompensationFailure *Failure `json:"compensation_failure,omitempty"`
}

// Result summarises the instance. Completed lists every milestone whose
// forward operation took effect, including ones compensated afterwards.
func (in *Instance) Result() *Result {
	res := &Result{
		SagaID:      in.ID,
		Status:      in.State,
		Completed:   []string{},
		Failed:      []string{},
		Compensated: []string{},
		Skipped:     []string{},
	}
	for i := range in.Records {
		r := &in.Records[i]
		if r.ranForward() {
			res.Completed = append(res.Completed, r.Name)
		}
		switch r.Status {
		case MilestoneFailed, MilestoneCompensationFailed:
			res.Failed = append(res.Failed, r.Name)
		case MilestoneCompensated:
			res.Compensated = append(res.Compensated, r.Name)
		case MilestoneSkipped:
			res.Skipped = append(res.Skipped, r.Name)
		}
	}
	if in.Failure != nil {
		f := *in.Failure
		res.Failure = &f
	}
	if in.CompensationFailure != nil {
		f := *in.CompensationFailure
		res.CompensationFailure = &f
	}
	return res
}

// Payload is the body of every WAL entry a saga writes. Compensation entries
// also carry the forward operation's result.
type Payload struct {
	SagaID        string          `json:"saga_id"`
	Milestone     string          `json:"milestone"`
	Index         int             `json:"index"`
	Context       json.RawMessage `json:"context,omitempty"`
	Input         json.RawMessage `json:"input,omitempty"`
	ForwardResult json.RawMessage `json:"forward_result,omitempty"`
}

// DecodePayload reads the saga payload of an entry.
func DecodePayload(e *wal.Entry) (*Payload, error) {
	var p Payload
	if err := e.UnmarshalPayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
