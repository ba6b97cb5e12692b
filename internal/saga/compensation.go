// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package saga

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// Store is the part of the WAL the saga engine uses.
type Store interface {
	Write(ctx context.Context, req wal.WriteRequest) (string, error)
	Get(ctx context.Context, logID string) (*wal.Entry, error)
	Await(ctx context.Context, logID string) (*wal.Entry, error)
	Cancel(ctx context.Context, logID, reason string) (*wal.Entry, error)
	ByCorrelation(ctx context.Context, correlationID string) ([]*wal.Entry, error)
	DefaultLifecycle() wal.Lifecycle
}

// Attempter performs one attempt of a WAL entry. dispatch.Runner implements it.
type Attempter interface {
	Attempt(ctx context.Context, logID string) (*wal.Entry, error)
}

// SaveFunc persists the instance after a record changes.
type SaveFunc func(ctx context.Context, inst *Instance) error

// Compensator walks completed milestones in reverse and runs their
// compensations. Records already compensated are skipped, so running it
// again after a crash never repeats a compensation.
type Compensator struct {
	store  Store
	runner Attempter
	tracer trace.Tracer
	now    func() time.Time
}

// NewCompensator creates a compensator.
func NewCompensator(store Store, runner Attempter) *Compensator {
	return &Compensator{
		store:  store,
		runner: runner,
		tracer: otel.Tracer("github.com/tomtom215/wavesaga/internal/saga"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run compensates records from index from down to 0 and returns the index of
// the record whose compensation failed, or -1 when every completed record
// is compensated. An error means the WAL or the repository failed and the
// walk can be resumed later.
func (c *Compensator) Run(ctx context.Context, inst *Instance, from int, save SaveFunc) (int, error) {
	if from >= len(inst.Records) {
		from = len(inst.Records) - 1
	}

	for i := from; i >= 0; i-- {
		rec := &inst.Records[i]
		switch rec.Status {
		case MilestoneCompleted, MilestoneCompensating:
		case MilestoneCompensationFailed:
			return i, nil
		default:
			continue
		}

		inst.CompensationCursor = i
		ok, err := c.compensateOne(ctx, inst, i, save)
		if err != nil {
			return -1, err
		}
		if !ok {
			return i, nil
		}
	}

	inst.CompensationCursor = -1
	return -1, save(ctx, inst)
}

func (c *Compensator) compensateOne(ctx context.Context, inst *Instance, i int, save SaveFunc) (bool, error) {
	rec := &inst.Records[i]
	m := inst.Milestones[i]

	ctx, span := c.tracer.Start(ctx, "saga.compensate", trace.WithAttributes(
		attribute.String("saga.id", inst.ID),
		attribute.String("saga.milestone", m.Name),
		attribute.Int("saga.index", i),
	))
	defer span.End()

	if rec.CompensationLogID == "" {
		id, err := c.store.Write(ctx, wal.WriteRequest{
			Namespace:     inst.Type,
			CorrelationID: inst.CorrelationID,
			Sequence:      -(i + 1),
			Kind:          wal.KindCompensation,
			Target:        m.CompensationRef,
			Lifecycle:     m.lifecycle(c.store.DefaultLifecycle()),
			SagaID:        inst.ID,
			Milestone:     m.Name,
			Payload: Payload{
				SagaID:        inst.ID,
				Milestone:     m.Name,
				Index:         i,
				Context:       inst.Context,
				Input:         m.Input,
				ForwardResult: rec.Result,
			},
		})
		if err != nil {
			span.RecordError(err)
			return false, fmt.Errorf("write compensation entry for %s: %w", m.Name, err)
		}
		rec.CompensationLogID = id
	}
	rec.Status = MilestoneCompensating
	if err := save(ctx, inst); err != nil {
		return false, err
	}

	start := time.Now()
	e, err := settle(ctx, c.store, c.runner, rec.CompensationLogID, nil)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	log := logging.Ctx(ctx).With().
		Str("milestone", m.Name).
		Str("log_id", e.LogID).
		Int("attempts", e.AttemptCount).
		Logger()

	now := c.now()
	if e.Status == wal.StatusCompensated {
		rec.Status = MilestoneCompensated
		rec.CompensatedAt = &now
		RecordCompensation("compensated")
		RecordMilestone(inst.Type, "compensated", time.Since(start).Seconds())
		log.Debug().Msg("Milestone compensated")
		return true, save(ctx, inst)
	}

	rec.Status = MilestoneCompensationFailed
	rec.Error = e.LastError
	inst.CompensationFailure = &Failure{
		Milestone: m.Name,
		LogID:     e.LogID,
		Reason:    entryReason(e),
		Error:     e.LastError,
	}
	span.SetStatus(codes.Error, "compensation failed")
	RecordCompensation("failed")
	RecordMilestone(inst.Type, "compensation_failed", time.Since(start).Seconds())
	log.Error().
		Str("status", string(e.Status)).
		Str("error", e.LastError).
		Msg("Compensation failed, saga needs operator intervention")
	return false, save(ctx, inst)
}

// settle attempts the entry once and, if it did not settle, waits for the
// retry scheduler to finish with it. When aborted reports true after a
// failed attempt the pending retry is cancelled instead.
func settle(ctx context.Context, store Store, runner Attempter, logID string, aborted func() bool) (*wal.Entry, error) {
	e, err := runner.Attempt(ctx, logID)
	if err != nil {
		return nil, err
	}
	if e.Settled() {
		return e, nil
	}
	if aborted != nil && aborted() {
		if e, err = store.Cancel(ctx, logID, "saga aborted"); err != nil {
			return nil, err
		}
		if e.Settled() {
			return e, nil
		}
	}
	return store.Await(ctx, logID)
}

// entryReason maps a settled, unsuccessful entry to a failure reason.
func entryReason(e *wal.Entry) string {
	switch {
	case e.Status == wal.StatusExpired:
		return ReasonExpired
	case e.Exhausted:
		return ReasonRetriesExhausted
	default:
		return ReasonHandlerFailed
	}
}
