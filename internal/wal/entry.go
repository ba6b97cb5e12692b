// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"time"

	"github.com/goccy/go-json"
)

// Status is the lifecycle state of a WAL entry.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusRetrying     Status = "retrying"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusExpired      Status = "expired"
)

// AllStatuses lists every status in graph order.
var AllStatuses = []Status{
	StatusPending, StatusRunning, StatusCompleted, StatusFailed,
	StatusRetrying, StatusCompensating, StatusCompensated, StatusExpired,
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusExpired
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Kind distinguishes forward operations from the compensations that undo them.
type Kind string

const (
	KindForward      Kind = "forward"
	KindCompensation Kind = "compensation"
)

// Entry is the durable unit of record.
type Entry struct {
	LogID         string          `json:"log_id"`
	Namespace     string          `json:"namespace"`
	CorrelationID string          `json:"correlation_id"`
	Sequence      int             `json:"sequence"`
	Kind          Kind            `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Target        string          `json:"target"`
	Lifecycle     Lifecycle       `json:"lifecycle"`
	Status        Status          `json:"status"`
	AttemptCount  int             `json:"attempt_count"`

	SagaID    string `json:"saga_id,omitempty"`
	Milestone string `json:"milestone,omitempty"`

	// Result is the output of the last successful handler invocation.
	Result    json.RawMessage `json:"result,omitempty"`
	LastError string          `json:"last_error,omitempty"`

	// Permanent is set when the handler signalled a non-retryable failure.
	Permanent bool `json:"permanent,omitempty"`

	// Exhausted is set when the scheduler gave up after RetryCount retries.
	Exhausted bool `json:"exhausted,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	LeaseHolder string     `json:"lease_holder,omitempty"`
	LeaseExpiry *time.Time `json:"lease_expiry,omitempty"`
}

// Settled reports whether the entry has reached an outcome no automatic
// process will change: terminal, or failed with no retry coming.
func (e *Entry) Settled() bool {
	if e.Status.Terminal() {
		return true
	}
	return e.Status == StatusFailed && (e.Permanent || e.Exhausted)
}

// Succeeded reports whether the entry's operation took effect.
func (e *Entry) Succeeded() bool {
	return e.Status == StatusCompleted || e.Status == StatusCompensated
}

// ExpiresAt returns created_at + ttl, or the zero time when the entry never expires.
func (e *Entry) ExpiresAt() time.Time {
	if e.Lifecycle.TTL <= 0 {
		return time.Time{}
	}
	return e.CreatedAt.Add(e.Lifecycle.TTL)
}

// Expired reports whether now is past the entry's TTL.
func (e *Entry) Expired(now time.Time) bool {
	exp := e.ExpiresAt()
	return !exp.IsZero() && now.After(exp)
}

// UnmarshalPayload deserializes the payload into v.
func (e *Entry) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Payload = cloneRaw(e.Payload)
	c.Result = cloneRaw(e.Result)
	c.LastAttemptAt = cloneTime(e.LastAttemptAt)
	c.NextAttemptAt = cloneTime(e.NextAttemptAt)
	c.CompletedAt = cloneTime(e.CompletedAt)
	c.LeaseExpiry = cloneTime(e.LeaseExpiry)
	return &c
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

// Outcome carries the optional data attached to a status update.
type Outcome struct {
	Result    json.RawMessage
	Error     string
	Permanent bool
	Exhausted bool
}

// WriteRequest describes a new operation intent.
type WriteRequest struct {
	Namespace     string      `validate:"required,keysafe,max=128"`
	CorrelationID string      `validate:"required,keysafe,max=256"`
	Sequence      int         ``
	Kind          Kind        `validate:"omitempty,oneof=forward compensation"`
	Payload       interface{} ``
	Target        string      `validate:"required,target,max=256"`
	Lifecycle     Lifecycle   ``
	SagaID        string      `validate:"omitempty,keysafe,max=256"`
	Milestone     string      `validate:"omitempty,keysafe,max=256"`
}

// Filter narrows Replay results. Zero fields match everything.
type Filter struct {
	Statuses      []Status
	CorrelationID string
	Target        string
	Kind          Kind
}

func (f Filter) match(e *Entry) bool {
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

// Stats contains WAL counters for monitoring.
type Stats struct {
	ByStatus       map[Status]int64 `json:"by_status"`
	TotalEntries   int64            `json:"total_entries"`
	TotalWrites    int64            `json:"total_writes"`
	TotalUpdates   int64            `json:"total_updates"`
	TotalRetries   int64            `json:"total_retries"`
	DedupedWrites  int64            `json:"deduped_writes"`
	LastCompaction time.Time        `json:"last_compaction"`
	DBSizeBytes    int64            `json:"db_size_bytes"`
}
