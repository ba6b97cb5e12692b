// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/saga"
	"github.com/tomtom215/wavesaga/internal/validation"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// ErrInvalidRequest is returned for a create request that passes field
// validation but is inconsistent as a whole.
var ErrInvalidRequest = errors.New("invalid wave request")

// RollbackSuffix is appended to a wave's target system to name the
// compensation target of its batches.
const RollbackSuffix = ".rollback"

// Sagas is the part of the saga orchestrator a Controller drives.
type Sagas interface {
	Design(ctx context.Context, req saga.DesignRequest) (string, error)
	Execute(ctx context.Context, sagaID string, sagaCtx json.RawMessage) (*saga.Result, error)
	Compensate(ctx context.Context, sagaID, reason string) (*saga.Result, error)
	Resume(ctx context.Context, sagaID string) (*saga.Result, error)
	GetStatus(ctx context.Context, sagaID string) (*saga.Instance, error)
}

// Journal reads a wave's WAL entries.
type Journal interface {
	ByCorrelation(ctx context.Context, correlationID string) ([]*wal.Entry, error)
}

// TargetChecker verifies handler targets exist.
type TargetChecker interface {
	Require(targets ...string) error
}

// Config holds controller settings. Loaded under the "wave" key.
type Config struct {
	// DefaultBatchSize applies to waves created without a batch size.
	DefaultBatchSize int `koanf:"default_batch_size"`

	// Namespace is the saga type, and so the WAL namespace, of wave sagas.
	Namespace string `koanf:"namespace"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{DefaultBatchSize: 100, Namespace: "wave"}
}

// Validate checks the controller settings.
func (c Config) Validate() error {
	if c.DefaultBatchSize < 1 {
		return errors.New("wave: default_batch_size must be at least 1")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("wave: namespace is required")
	}
	return nil
}

// Controller creates waves and drives each through one saga.
type Controller struct {
	sagas   Sagas
	journal Journal
	targets TargetChecker
	repo    Repository
	config  Config
	tracer  trace.Tracer
	now     func() time.Time

	mu   sync.Mutex
	busy map[string]struct{}
}

// NewController creates a controller. targets may be nil to skip the
// registration check at creation time; the saga still checks at design.
func NewController(sagas Sagas, journal Journal, targets TargetChecker, repo Repository, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.DefaultBatchSize < 1 {
		cfg.DefaultBatchSize = def.DefaultBatchSize
	}
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	return &Controller{
		sagas:   sagas,
		journal: journal,
		targets: targets,
		repo:    repo,
		config:  cfg,
		tracer:  otel.Tracer("github.com/tomtom215/wavesaga/internal/wave"),
		now:     func() time.Time { return time.Now().UTC() },
		busy:    make(map[string]struct{}),
	}
}

func (c *Controller) acquire(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.busy[id]; ok {
		return fmt.Errorf("%w: %s", ErrWaveBusy, id)
	}
	c.busy[id] = struct{}{}
	return nil
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	delete(c.busy, id)
	c.mu.Unlock()
}

// CreateWave records a planned wave. Nothing runs until ExecuteWave.
func (c *Controller) CreateWave(ctx context.Context, req CreateRequest) (*Wave, error) {
	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	for _, g := range req.QualityGates {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if req.ScheduledStart != nil && req.ScheduledEnd != nil && !req.ScheduledEnd.After(*req.ScheduledStart) {
		return nil, fmt.Errorf("%w: scheduled_end must be after scheduled_start", ErrInvalidRequest)
	}
	if c.targets != nil {
		if err := c.targets.Require(req.TargetSystem, req.TargetSystem+RollbackSuffix); err != nil {
			return nil, err
		}
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = c.config.DefaultBatchSize
	}

	now := c.now()
	id := newWaveID()
	w := &Wave{
		ID:             id,
		WaveNumber:     req.WaveNumber,
		Name:           req.Name,
		Description:    req.Description,
		TargetSystem:   req.TargetSystem,
		BatchSize:      batchSize,
		CandidateIDs:   append([]string(nil), req.CandidateIDs...),
		QualityGates:   append([]QualityGate(nil), req.QualityGates...),
		Lifecycle:      req.Lifecycle,
		Status:         StatusPlanned,
		CorrelationID:  id,
		ScheduledStart: cloneTime(req.ScheduledStart),
		ScheduledEnd:   cloneTime(req.ScheduledEnd),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.repo.CreateWave(ctx, w); err != nil {
		return nil, fmt.Errorf("create wave: %w", err)
	}

	logging.Ctx(logging.ContextWithWaveID(ctx, id)).Info().
		Int("wave_number", w.WaveNumber).
		Str("target_system", w.TargetSystem).
		Int("items", len(w.CandidateIDs)).
		Int("batches", w.Batches()).
		Msg("Wave created")
	return w, nil
}

func newWaveID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "wave_" + hex[:12]
}

// Partition splits the wave's items into batch milestones, in order.
func (c *Controller) Partition(w *Wave) ([]saga.Milestone, error) {
	n := w.Batches()
	milestones := make([]saga.Milestone, 0, n)
	for b := 0; b < n; b++ {
		lo := b * w.BatchSize
		hi := min(lo+w.BatchSize, len(w.CandidateIDs))
		input, err := json.Marshal(BatchInput{WaveID: w.ID, Batch: b, ItemIDs: w.CandidateIDs[lo:hi]})
		if err != nil {
			return nil, fmt.Errorf("encode batch %d: %w", b, err)
		}
		milestones = append(milestones, saga.Milestone{
			Name:            BatchName(b),
			ForwardRef:      w.TargetSystem,
			CompensationRef: w.TargetSystem + RollbackSuffix,
			Input:           input,
			Lifecycle:       w.Lifecycle,
		})
	}
	return milestones, nil
}

// BatchName is the milestone name of batch b.
func BatchName(b int) string {
	return fmt.Sprintf("batch-%03d", b)
}

func (c *Controller) save(ctx context.Context, w *Wave) error {
	w.UpdatedAt = c.now()
	if err := c.repo.SaveWave(ctx, w); err != nil {
		return fmt.Errorf("save wave %s: %w", w.ID, err)
	}
	return nil
}

func (c *Controller) setStatus(ctx context.Context, w *Wave, to Status) error {
	logging.Ctx(ctx).Debug().
		Str("from", string(w.Status)).
		Str("to", string(to)).
		Msg("Wave status transition")
	w.Status = to
	if to.Finished() {
		now := c.now()
		w.CompletedAt = &now
	}
	if err := c.save(ctx, w); err != nil {
		return err
	}
	if to.Finished() {
		RecordWaveFinished(to)
	}
	return nil
}

func (c *Controller) result(ctx context.Context, w *Wave) *ExecuteResult {
	res := &ExecuteResult{
		WaveID:             w.ID,
		Status:             w.Status,
		QualityGateResults: w.GateResults,
		Metrics:            w.Metrics,
		Error:              w.Error,
	}
	if res.QualityGateResults == nil {
		res.QualityGateResults = []GateResult{}
	}
	if w.SagaID != "" {
		if inst, err := c.sagas.GetStatus(ctx, w.SagaID); err == nil {
			res.Saga = inst.Result()
		}
	}
	return res
}

// ExecuteWave runs a planned wave: its batches execute as one saga, then
// the quality gates decide between commit and rollback. A gate failure
// compensates every batch even though all of them succeeded.
//
// Executing a finished wave returns its result unchanged. A wave left
// mid-way by a crash is continued with Resume.
func (c *Controller) ExecuteWave(ctx context.Context, waveID string) (*ExecuteResult, error) {
	if err := c.acquire(waveID); err != nil {
		return nil, err
	}
	defer c.release(waveID)

	w, err := c.repo.GetWave(ctx, waveID)
	if err != nil {
		return nil, err
	}
	ctx = logging.ContextWithWaveID(ctx, w.ID)
	if w.Status.Finished() {
		return c.result(ctx, w), nil
	}
	if w.Status != StatusPlanned {
		return nil, fmt.Errorf("%w: wave %s is %s, use Resume", ErrInvalidState, waveID, w.Status)
	}

	ctx, span := c.tracer.Start(ctx, "wave.execute", trace.WithAttributes(
		attribute.String("wave.id", w.ID),
		attribute.Int("wave.number", w.WaveNumber),
		attribute.Int("wave.items", len(w.CandidateIDs)),
	))
	defer span.End()

	milestones, err := c.Partition(w)
	if err != nil {
		return nil, err
	}
	sagaID, err := c.sagas.Design(ctx, saga.DesignRequest{
		Type:          c.config.Namespace,
		CorrelationID: w.CorrelationID,
		Milestones:    milestones,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("design wave saga: %w", err)
	}

	now := c.now()
	w.SagaID = sagaID
	w.StartedAt = &now
	if err := c.setStatus(ctx, w, StatusExecuting); err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().
		Str("saga_id", sagaID).
		Int("batches", len(milestones)).
		Msg("Wave execution started")

	sagaCtx, err := json.Marshal(map[string]any{
		"wave_id":       w.ID,
		"wave_number":   w.WaveNumber,
		"target_system": w.TargetSystem,
	})
	if err != nil {
		return nil, err
	}
	res, err := c.sagas.Execute(ctx, sagaID, sagaCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "saga interrupted")
		return nil, fmt.Errorf("execute wave saga: %w", err)
	}

	out, err := c.afterSaga(ctx, w, res)
	if err == nil && out.Status != StatusCommitted {
		span.SetStatus(codes.Error, string(out.Status))
	}
	return out, err
}

// afterSaga moves an executing wave on from its saga's result.
func (c *Controller) afterSaga(ctx context.Context, w *Wave, res *saga.Result) (*ExecuteResult, error) {
	switch res.Status {
	case saga.StateCompleted:
		return c.qualityCheck(ctx, w)
	case saga.StateCompensated, saga.StateCompensationFailed:
		if res.Failure != nil {
			w.Error = fmt.Sprintf("batch %s failed: %s", res.Failure.Milestone, res.Failure.Error)
		}
		return c.finishRollback(ctx, w, res)
	default:
		return nil, fmt.Errorf("%w: saga %s ended %s", ErrInvalidState, res.SagaID, res.Status)
	}
}

// qualityCheck aggregates batch outcomes and evaluates the gates.
func (c *Controller) qualityCheck(ctx context.Context, w *Wave) (*ExecuteResult, error) {
	if w.Status != StatusQualityCheck {
		if err := c.setStatus(ctx, w, StatusQualityCheck); err != nil {
			return nil, err
		}
	}

	inst, err := c.sagas.GetStatus(ctx, w.SagaID)
	if err != nil {
		return nil, err
	}
	var m Metrics
	for _, rec := range inst.Records {
		if err := m.AddResult(rec.Result); err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Name, err)
		}
	}
	results := Evaluate(w.QualityGates, m)
	RecordGates(results)
	RecordItems(m)

	w.Metrics = m
	w.GateResults = results

	if failed := failedGates(results); failed != "" {
		w.Error = "quality gate failed: " + failed
		logging.Ctx(ctx).Warn().
			Str("saga_id", w.SagaID).
			Str("gates", failed).
			Float64("error_rate", m.ErrorRate()).
			Msg("Wave quality gate failed, rolling back")
		if err := c.setStatus(ctx, w, StatusRollback); err != nil {
			return nil, err
		}
		return c.rollback(ctx, w, w.Error)
	}

	if err := c.setStatus(ctx, w, StatusCommitted); err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().
		Int("processed", m.Processed).
		Float64("error_rate", m.ErrorRate()).
		Msg("Wave committed")
	return c.result(ctx, w), nil
}

// rollback compensates the wave's saga. The wave must already be in rollback.
func (c *Controller) rollback(ctx context.Context, w *Wave, reason string) (*ExecuteResult, error) {
	ctx, span := c.tracer.Start(ctx, "wave.rollback", trace.WithAttributes(
		attribute.String("wave.id", w.ID),
		attribute.String("wave.reason", reason),
	))
	defer span.End()

	inst, err := c.sagas.GetStatus(ctx, w.SagaID)
	if err != nil {
		return nil, err
	}

	var res *saga.Result
	switch inst.State {
	case saga.StateCompleted:
		res, err = c.sagas.Compensate(ctx, w.SagaID, reason)
	case saga.StateCompensating:
		res, err = c.sagas.Resume(ctx, w.SagaID)
	case saga.StateCompensated, saga.StateCompensationFailed:
		res = inst.Result()
	default:
		err = fmt.Errorf("%w: saga %s is %s", ErrInvalidState, w.SagaID, inst.State)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("roll back wave %s: %w", w.ID, err)
	}
	return c.finishRollback(ctx, w, res)
}

func (c *Controller) finishRollback(ctx context.Context, w *Wave, res *saga.Result) (*ExecuteResult, error) {
	to := StatusRolledBack
	if res.Status == saga.StateCompensationFailed {
		to = StatusRollbackFailed
	}
	if err := c.setStatus(ctx, w, to); err != nil {
		return nil, err
	}

	if to == StatusRollbackFailed {
		ev := logging.Ctx(ctx).Error().Str("saga_id", w.SagaID)
		if f := res.CompensationFailure; f != nil {
			ev = ev.Str("milestone", f.Milestone).Str("log_id", f.LogID).Str("cause", f.Error)
		}
		ev.Msg("Wave rollback failed, manual intervention required")
	} else {
		logging.Ctx(ctx).Info().
			Int("compensated", len(res.Compensated)).
			Msg("Wave rolled back")
	}

	out := c.result(ctx, w)
	out.Saga = res
	return out, nil
}

// RollbackWave compensates a wave on request. A committed wave is undone
// batch by batch in reverse order. A planned wave has nothing to undo and
// is marked rolled back directly. Rolling back a wave that already rolled
// back returns its result.
func (c *Controller) RollbackWave(ctx context.Context, waveID string) (*ExecuteResult, error) {
	if err := c.acquire(waveID); err != nil {
		return nil, err
	}
	defer c.release(waveID)

	w, err := c.repo.GetWave(ctx, waveID)
	if err != nil {
		return nil, err
	}
	ctx = logging.ContextWithWaveID(ctx, w.ID)

	switch w.Status {
	case StatusRolledBack, StatusRollbackFailed:
		return c.result(ctx, w), nil
	case StatusPlanned:
		w.Error = "rolled back before execution"
		if err := c.setStatus(ctx, w, StatusRolledBack); err != nil {
			return nil, err
		}
		return c.result(ctx, w), nil
	case StatusExecuting:
		return nil, fmt.Errorf("%w: wave %s is executing", ErrInvalidState, waveID)
	}

	if w.Status != StatusRollback {
		w.Error = "rollback requested"
		if err := c.setStatus(ctx, w, StatusRollback); err != nil {
			return nil, err
		}
	}
	logging.Ctx(ctx).Info().Str("saga_id", w.SagaID).Msg("Wave rollback requested")
	return c.rollback(ctx, w, w.Error)
}

// Resume continues a wave interrupted mid-way, from whatever its saga
// reached. Finished and planned waves are returned unchanged.
func (c *Controller) Resume(ctx context.Context, waveID string) (*ExecuteResult, error) {
	if err := c.acquire(waveID); err != nil {
		return nil, err
	}
	defer c.release(waveID)

	w, err := c.repo.GetWave(ctx, waveID)
	if err != nil {
		return nil, err
	}
	ctx = logging.ContextWithWaveID(ctx, w.ID)

	switch w.Status {
	case StatusExecuting:
		inst, err := c.sagas.GetStatus(ctx, w.SagaID)
		if err != nil {
			return nil, err
		}
		var res *saga.Result
		if inst.State.Finished() {
			res = inst.Result()
		} else if res, err = c.sagas.Resume(ctx, w.SagaID); err != nil {
			return nil, fmt.Errorf("resume wave saga: %w", err)
		}
		return c.afterSaga(ctx, w, res)
	case StatusQualityCheck:
		return c.qualityCheck(ctx, w)
	case StatusRollback:
		return c.rollback(ctx, w, w.Error)
	default:
		return c.result(ctx, w), nil
	}
}

// ResumeInterrupted resumes every wave left executing, in quality check or
// in rollback, and returns how many it resumed. Run it after the saga
// orchestrator has resumed its own interrupted sagas.
func (c *Controller) ResumeInterrupted(ctx context.Context) (int, error) {
	waves, err := c.repo.ListWaves(ctx, StatusExecuting, StatusQualityCheck, StatusRollback)
	if err != nil {
		return 0, fmt.Errorf("list interrupted waves: %w", err)
	}

	resumed := 0
	var errs []error
	for _, w := range waves {
		if _, err := c.Resume(ctx, w.ID); err != nil {
			if errors.Is(err, ErrWaveBusy) || errors.Is(err, saga.ErrSagaRunning) {
				continue
			}
			errs = append(errs, fmt.Errorf("resume %s: %w", w.ID, err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		logging.Info().Int("waves", resumed).Msg("Resumed interrupted waves")
	}
	return resumed, errors.Join(errs...)
}

// GetWave returns the stored wave record.
func (c *Controller) GetWave(ctx context.Context, waveID string) (*Wave, error) {
	return c.repo.GetWave(ctx, waveID)
}

// ListWaves returns waves in the given statuses, or all of them.
func (c *Controller) ListWaves(ctx context.Context, statuses ...Status) ([]*Wave, error) {
	return c.repo.ListWaves(ctx, statuses...)
}
