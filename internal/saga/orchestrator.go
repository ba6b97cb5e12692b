// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/validation"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// TargetChecker verifies that handler targets are registered.
// dispatch.Registry implements it.
type TargetChecker interface {
	Require(targets ...string) error
}

// Config holds orchestrator settings. Loaded under the "saga" key.
type Config struct {
	// CacheSize caps the number of cached saga snapshots.
	CacheSize int `koanf:"cache_size"`

	// CacheTTL bounds how long a snapshot is served from cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// ResumeConcurrency caps sagas resumed in parallel at startup.
	ResumeConcurrency int `koanf:"resume_concurrency"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize:         1024,
		CacheTTL:          time.Minute,
		ResumeConcurrency: 4,
	}
}

// Validate checks the orchestrator settings.
func (c Config) Validate() error {
	if c.CacheSize < 1 {
		return errors.New("saga: cache_size must be at least 1")
	}
	if c.CacheTTL <= 0 {
		return errors.New("saga: cache_ttl must be positive")
	}
	if c.ResumeConcurrency < 1 {
		return errors.New("saga: resume_concurrency must be at least 1")
	}
	return nil
}

// run is the in-process handle of a saga being driven by this orchestrator.
type run struct {
	abort atomic.Bool

	mu       sync.Mutex
	inFlight string
}

func (r *run) aborted() bool { return r.abort.Load() }

func (r *run) setInFlight(logID string) {
	r.mu.Lock()
	r.inFlight = logID
	r.mu.Unlock()
}

func (r *run) currentLogID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// Orchestrator designs and drives sagas. Milestones of one saga run strictly
// in order; separate sagas run concurrently, each in its caller's goroutine.
type Orchestrator struct {
	store       Store
	runner      Attempter
	targets     TargetChecker
	repo        Repository
	compensator *Compensator
	config      Config

	cache  *expirable.LRU[string, *Instance]
	tracer trace.Tracer
	now    func() time.Time

	mu     sync.Mutex
	active map[string]*run

	// designMu serializes the correlation ownership check with Create.
	designMu sync.Mutex
}

// New creates an orchestrator.
func New(store Store, runner Attempter, targets TargetChecker, repo Repository, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.CacheSize < 1 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.ResumeConcurrency < 1 {
		cfg.ResumeConcurrency = def.ResumeConcurrency
	}

	return &Orchestrator{
		store:       store,
		runner:      runner,
		targets:     targets,
		repo:        repo,
		compensator: NewCompensator(store, runner),
		config:      cfg,
		cache:       expirable.NewLRU[string, *Instance](cfg.CacheSize, nil, cfg.CacheTTL),
		tracer:      otel.Tracer("github.com/tomtom215/wavesaga/internal/saga"),
		now:         func() time.Time { return time.Now().UTC() },
		active:      make(map[string]*run),
	}
}

// Design validates the milestones and records a new saga in the created state.
// Every milestone must name a registered forward and compensation target.
func (o *Orchestrator) Design(ctx context.Context, req DesignRequest) (string, error) {
	if err := validation.Validate(&req); err != nil {
		return "", err
	}

	seen := make(map[string]struct{}, len(req.Milestones))
	refs := make([]string, 0, 2*len(req.Milestones))
	for _, m := range req.Milestones {
		if _, dup := seen[m.Name]; dup {
			return "", fmt.Errorf("%w: %s", ErrDuplicateMilestone, m.Name)
		}
		seen[m.Name] = struct{}{}
		if len(m.Input) > 0 && !json.Valid(m.Input) {
			return "", fmt.Errorf("%w: %s input must be valid JSON", ErrInvalidMilestone, m.Name)
		}
		refs = append(refs, m.ForwardRef, m.CompensationRef)
	}
	if o.targets != nil {
		if err := o.targets.Require(refs...); err != nil {
			return "", err
		}
	}

	now := o.now()
	id := newSagaID(req.Type)
	inst := &Instance{
		ID:                 id,
		Type:               req.Type,
		CorrelationID:      req.CorrelationID,
		State:              StateCreated,
		Milestones:         req.Milestones,
		Records:            make([]MilestoneRecord, len(req.Milestones)),
		CompensationCursor: -1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if inst.CorrelationID == "" {
		inst.CorrelationID = id
	}
	for i, m := range req.Milestones {
		inst.Records[i] = MilestoneRecord{Index: i, Name: m.Name, Status: MilestonePending}
	}

	// WAL entries are keyed by (type, correlation id, sequence), so two sagas
	// of one type sharing a correlation id would resolve to each other's entries.
	o.designMu.Lock()
	defer o.designMu.Unlock()
	if req.CorrelationID != "" {
		owners, err := o.repo.List(ctx, ListFilter{Type: req.Type, CorrelationID: req.CorrelationID, Limit: 1})
		if err != nil {
			return "", fmt.Errorf("check correlation id: %w", err)
		}
		if len(owners) > 0 {
			return "", fmt.Errorf("%w: %s is used by %s", ErrCorrelationInUse, req.CorrelationID, owners[0].ID)
		}
	}
	if err := o.repo.Create(ctx, inst); err != nil {
		return "", fmt.Errorf("create saga: %w", err)
	}
	o.cache.Add(id, inst.Clone())

	logging.Ctx(ctx).Info().
		Str("saga_id", id).
		Str("type", req.Type).
		Int("milestones", len(req.Milestones)).
		Msg("Saga designed")
	return id, nil
}

func newSagaID(sagaType string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("saga_%s_%s", sagaType, hex[:8])
}

// begin registers the saga as driven by this process.
func (o *Orchestrator) begin(sagaID string) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[sagaID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSagaRunning, sagaID)
	}
	r := &run{}
	o.active[sagaID] = r
	sagasActive.Inc()
	return r, nil
}

func (o *Orchestrator) end(sagaID string) {
	o.mu.Lock()
	delete(o.active, sagaID)
	o.mu.Unlock()
	sagasActive.Dec()
}

func (o *Orchestrator) save(ctx context.Context, inst *Instance) error {
	inst.UpdatedAt = o.now()
	if err := o.repo.Save(ctx, inst); err != nil {
		return fmt.Errorf("save saga %s: %w", inst.ID, err)
	}
	o.cache.Add(inst.ID, inst.Clone())
	return nil
}

func sagaContext(ctx context.Context, inst *Instance) context.Context {
	ctx = logging.ContextWithSagaID(ctx, inst.ID)
	return logging.ContextWithCorrelationID(ctx, inst.CorrelationID)
}

// Execute runs a created saga to a finished state and returns its result.
//
// Milestones run in order. Each is written to the WAL before its handler is
// invoked, and a failed attempt is left to the retry scheduler while the saga
// waits for the entry to settle. If a milestone fails for good, every
// milestone before it is compensated in reverse order. Handler failures are
// reported in the result; the error is reserved for infrastructure failures,
// after which the saga can be continued with Resume.
//
// Executing a saga that already finished returns its result unchanged.
func (o *Orchestrator) Execute(ctx context.Context, sagaID string, sagaCtx json.RawMessage) (*Result, error) {
	if len(sagaCtx) > 0 && !json.Valid(sagaCtx) {
		return nil, ErrInvalidContext
	}

	r, err := o.begin(sagaID)
	if err != nil {
		return nil, err
	}
	defer o.end(sagaID)

	inst, err := o.repo.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if inst.State.Finished() {
		return inst.Result(), nil
	}
	if inst.State != StateCreated {
		return nil, fmt.Errorf("%w: saga %s is %s, use Resume", ErrInvalidState, sagaID, inst.State)
	}

	ctx = sagaContext(ctx, inst)
	ctx, span := o.tracer.Start(ctx, "saga.execute", trace.WithAttributes(
		attribute.String("saga.id", inst.ID),
		attribute.String("saga.type", inst.Type),
		attribute.Int("saga.milestones", len(inst.Milestones)),
	))
	defer span.End()

	now := o.now()
	inst.State = StateRunning
	inst.StartedAt = &now
	if len(sagaCtx) > 0 {
		inst.Context = cloneRaw(sagaCtx)
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		inst.TraceID = sc.TraceID().String()
	}
	if err := o.save(ctx, inst); err != nil {
		return nil, err
	}

	RecordSagaStarted(inst.Type)
	logging.Ctx(ctx).Info().Str("type", inst.Type).Msg("Saga execution started")

	res, err := o.runForward(ctx, r, inst, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "saga interrupted")
	} else if res.Status != StateCompleted {
		span.SetStatus(codes.Error, string(res.Status))
	}
	return res, err
}

// runForward executes milestones from index from onwards.
func (o *Orchestrator) runForward(ctx context.Context, r *run, inst *Instance, from int) (*Result, error) {
	for i := from; i < len(inst.Records); i++ {
		// A milestone already written is in flight and is seen through first.
		if r.aborted() && inst.Records[i].ForwardLogID == "" {
			inst.AbortRequested = true
			return o.fail(ctx, inst, i, &Failure{
				Milestone: inst.Records[i].Name,
				Reason:    ReasonAborted,
				Error:     "saga aborted",
			})
		}

		e, err := o.runMilestone(ctx, r, inst, i)
		if err != nil {
			return inst.Result(), err
		}
		if e.Status == wal.StatusCompleted {
			continue
		}

		reason := entryReason(e)
		if r.aborted() && e.Permanent {
			reason = ReasonAborted
		}
		return o.fail(ctx, inst, i, &Failure{
			Milestone: inst.Records[i].Name,
			LogID:     e.LogID,
			Reason:    reason,
			Error:     e.LastError,
		})
	}
	// An abort that arrived while the last milestone ran still unwinds.
	if r.aborted() {
		inst.AbortRequested = true
		return o.fail(ctx, inst, len(inst.Records), &Failure{
			Reason: ReasonAborted,
			Error:  "saga aborted",
		})
	}

	now := o.now()
	inst.State = StateCompleted
	inst.CompletedAt = &now
	if err := o.save(ctx, inst); err != nil {
		return inst.Result(), err
	}

	RecordSagaFinished(inst.Type, inst.State)
	logging.Ctx(ctx).Info().Str("type", inst.Type).Msg("Saga completed")
	return inst.Result(), nil
}

// runMilestone writes the forward entry for milestone i, if not written
// already, and drives it until it settles.
func (o *Orchestrator) runMilestone(ctx context.Context, r *run, inst *Instance, i int) (*wal.Entry, error) {
	rec := &inst.Records[i]
	m := inst.Milestones[i]

	ctx, span := o.tracer.Start(ctx, "saga.milestone", trace.WithAttributes(
		attribute.String("saga.id", inst.ID),
		attribute.String("saga.milestone", m.Name),
		attribute.Int("saga.index", i),
	))
	defer span.End()

	if rec.ForwardLogID == "" {
		id, err := o.store.Write(ctx, wal.WriteRequest{
			Namespace:     inst.Type,
			CorrelationID: inst.CorrelationID,
			Sequence:      i + 1,
			Kind:          wal.KindForward,
			Target:        m.ForwardRef,
			Lifecycle:     m.lifecycle(o.store.DefaultLifecycle()),
			SagaID:        inst.ID,
			Milestone:     m.Name,
			Payload: Payload{
				SagaID:    inst.ID,
				Milestone: m.Name,
				Index:     i,
				Context:   inst.Context,
				Input:     m.Input,
			},
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("write entry for %s: %w", m.Name, err)
		}
		rec.ForwardLogID = id
	}
	if rec.StartedAt == nil {
		now := o.now()
		rec.StartedAt = &now
	}
	rec.Status = MilestoneRunning
	if err := o.save(ctx, inst); err != nil {
		return nil, err
	}

	start := time.Now()
	r.setInFlight(rec.ForwardLogID)
	e, err := settle(ctx, o.store, o.runner, rec.ForwardLogID, r.aborted)
	r.setInFlight("")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	log := logging.Ctx(ctx).With().
		Str("milestone", m.Name).
		Str("log_id", e.LogID).
		Int("attempts", e.AttemptCount).
		Logger()

	if e.Status == wal.StatusCompleted {
		now := o.now()
		rec.Status = MilestoneCompleted
		rec.Result = cloneRaw(e.Result)
		rec.CompletedAt = &now
		RecordMilestone(inst.Type, "completed", time.Since(start).Seconds())
		log.Debug().Msg("Milestone completed")
	} else {
		rec.Status = MilestoneFailed
		rec.Error = e.LastError
		span.SetStatus(codes.Error, "milestone failed")
		RecordMilestone(inst.Type, "failed", time.Since(start).Seconds())
		log.Warn().
			Str("status", string(e.Status)).
			Bool("permanent", e.Permanent).
			Bool("exhausted", e.Exhausted).
			Str("error", e.LastError).
			Msg("Milestone failed")
	}
	return e, o.save(ctx, inst)
}

// fail records why milestone i stopped the saga, skips every milestone not
// yet started and compensates the milestones before i.
func (o *Orchestrator) fail(ctx context.Context, inst *Instance, i int, f *Failure) (*Result, error) {
	for j := i; j < len(inst.Records); j++ {
		if inst.Records[j].Status == MilestonePending {
			inst.Records[j].Status = MilestoneSkipped
		}
	}
	return o.compensate(ctx, inst, f, i-1)
}

// compensate moves the saga to compensating and walks back from index from.
func (o *Orchestrator) compensate(ctx context.Context, inst *Instance, f *Failure, from int) (*Result, error) {
	if f != nil {
		inst.Failure = f
	}
	if inst.Failure == nil {
		inst.Failure = &Failure{Reason: ReasonHandlerFailed}
	}
	inst.State = StateCompensating
	if err := o.save(ctx, inst); err != nil {
		return inst.Result(), err
	}

	logging.Ctx(ctx).Warn().
		Str("reason", inst.Failure.Reason).
		Str("milestone", inst.Failure.Milestone).
		Msg("Saga compensating")

	failed, err := o.compensator.Run(ctx, inst, from, o.save)
	if err != nil {
		return inst.Result(), err
	}

	now := o.now()
	inst.CompletedAt = &now
	if failed >= 0 {
		inst.State = StateCompensationFailed
	} else {
		inst.State = StateCompensated
	}
	if err := o.save(ctx, inst); err != nil {
		return inst.Result(), err
	}

	RecordSagaFinished(inst.Type, inst.State)
	if inst.State == StateCompensationFailed {
		logging.Ctx(ctx).Error().
			Str("milestone", inst.CompensationFailure.Milestone).
			Str("log_id", inst.CompensationFailure.LogID).
			Msg("Saga compensation failed")
	} else {
		logging.Ctx(ctx).Info().Msg("Saga compensated")
	}
	return inst.Result(), nil
}

// Compensate undoes a completed saga, for example after a quality gate
// rejected its outcome. Milestones are compensated in reverse order. Calling
// it on a saga that was already compensated returns the existing result.
func (o *Orchestrator) Compensate(ctx context.Context, sagaID, reason string) (*Result, error) {
	if _, err := o.begin(sagaID); err != nil {
		return nil, err
	}
	defer o.end(sagaID)

	inst, err := o.repo.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	switch inst.State {
	case StateCompensated, StateCompensationFailed:
		return inst.Result(), nil
	case StateCompleted:
	default:
		return nil, fmt.Errorf("%w: saga %s is %s, only completed sagas can be compensated", ErrInvalidState, sagaID, inst.State)
	}

	ctx = sagaContext(ctx, inst)
	ctx, span := o.tracer.Start(ctx, "saga.compensate_all", trace.WithAttributes(
		attribute.String("saga.id", inst.ID),
		attribute.String("saga.reason", reason),
	))
	defer span.End()

	return o.compensate(ctx, inst, &Failure{Reason: ReasonRequested, Error: reason}, len(inst.Records)-1)
}

// Abort asks a saga to stop. Abort is cooperative: a handler already running
// is never interrupted. Once it returns, the saga compensates every
// milestone that completed. A pending retry of the current milestone is
// cancelled. Aborting a saga that has not started marks it compensated
// without running anything.
func (o *Orchestrator) Abort(ctx context.Context, sagaID string) (*Instance, error) {
	o.mu.Lock()
	active, ok := o.active[sagaID]
	o.mu.Unlock()

	if ok {
		active.abort.Store(true)
		if logID := active.currentLogID(); logID != "" {
			if _, err := o.store.Cancel(ctx, logID, "saga aborted"); err != nil {
				return nil, err
			}
		}
		RecordAbort()
		logging.Ctx(ctx).Info().Str("saga_id", sagaID).Msg("Saga abort requested")
		return o.GetStatus(ctx, sagaID)
	}

	if _, err := o.begin(sagaID); err != nil {
		// Started between the check and now; abort that run instead.
		return o.Abort(ctx, sagaID)
	}
	defer o.end(sagaID)

	inst, err := o.repo.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	switch inst.State {
	case StateCreated:
		now := o.now()
		for i := range inst.Records {
			inst.Records[i].Status = MilestoneSkipped
		}
		inst.AbortRequested = true
		inst.Failure = &Failure{Reason: ReasonAborted, Error: "saga aborted before start"}
		inst.State = StateCompensated
		inst.CompletedAt = &now
		RecordSagaFinished(inst.Type, inst.State)
	case StateRunning:
		// Not driven by this process; Resume honours the flag.
		inst.AbortRequested = true
	case StateCompensating:
		return inst, nil
	default:
		return nil, fmt.Errorf("%w: saga %s is %s", ErrInvalidState, sagaID, inst.State)
	}

	if err := o.save(ctx, inst); err != nil {
		return nil, err
	}
	RecordAbort()
	return inst.Clone(), nil
}

// Resume continues a saga interrupted by a crash or an infrastructure error.
// A running saga continues from its first unfinished milestone, re-awaiting
// an entry that was already written. A compensating saga continues the
// reverse walk from the first milestone not yet compensated.
func (o *Orchestrator) Resume(ctx context.Context, sagaID string) (*Result, error) {
	r, err := o.begin(sagaID)
	if err != nil {
		return nil, err
	}
	defer o.end(sagaID)

	inst, err := o.repo.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	ctx = sagaContext(ctx, inst)
	ctx, span := o.tracer.Start(ctx, "saga.resume", trace.WithAttributes(
		attribute.String("saga.id", inst.ID),
		attribute.String("saga.state", string(inst.State)),
	))
	defer span.End()

	switch inst.State {
	case StateCompleted, StateCompensated, StateCompensationFailed:
		return inst.Result(), nil
	case StateCreated:
		return nil, fmt.Errorf("%w: saga %s has not started", ErrInvalidState, sagaID)
	case StateCompensating:
		logging.Ctx(ctx).Info().Int("cursor", inst.CompensationCursor).Msg("Resuming saga compensation")
		return o.compensate(ctx, inst, nil, len(inst.Records)-1)
	}

	if inst.AbortRequested {
		r.abort.Store(true)
	}
	from := 0
	for from < len(inst.Records) && inst.Records[from].Status == MilestoneCompleted {
		from++
	}
	logging.Ctx(ctx).Info().Int("from", from).Msg("Resuming saga")
	return o.runForward(ctx, r, inst, from)
}

// ResumeInterrupted resumes every running or compensating saga, a few at a
// time, and returns how many it resumed. Call it at startup after the retry
// scheduler has recovered in-flight WAL entries.
func (o *Orchestrator) ResumeInterrupted(ctx context.Context) (int, error) {
	pending, err := o.repo.List(ctx, ListFilter{States: []State{StateRunning, StateCompensating}})
	if err != nil {
		return 0, fmt.Errorf("list interrupted sagas: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	logging.Info().Int("sagas", len(pending)).Msg("Resuming interrupted sagas")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.ResumeConcurrency)
	var resumed atomic.Int64
	for _, inst := range pending {
		id := inst.ID
		g.Go(func() error {
			if _, err := o.Resume(gctx, id); err != nil {
				if errors.Is(err, ErrSagaRunning) {
					return nil
				}
				return fmt.Errorf("resume %s: %w", id, err)
			}
			resumed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(resumed.Load()), err
}

// GetStatus returns a snapshot of the saga.
func (o *Orchestrator) GetStatus(ctx context.Context, sagaID string) (*Instance, error) {
	if inst, ok := o.cache.Get(sagaID); ok {
		snapshotCache.WithLabelValues("hit").Inc()
		return inst.Clone(), nil
	}
	snapshotCache.WithLabelValues("miss").Inc()

	inst, err := o.repo.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	o.cache.Add(sagaID, inst.Clone())
	return inst, nil
}

// History returns the WAL entries the saga wrote, in write order.
func (o *Orchestrator) History(ctx context.Context, sagaID string) ([]*wal.Entry, error) {
	inst, err := o.GetStatus(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	entries, err := o.store.ByCorrelation(ctx, inst.CorrelationID)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.SagaID == sagaID {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns sagas matching the filter, oldest first.
func (o *Orchestrator) List(ctx context.Context, f ListFilter) ([]*Instance, error) {
	return o.repo.List(ctx, f)
}

// IsActive reports whether this process is currently driving the saga.
func (o *Orchestrator) IsActive(sagaID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[sagaID]
	return ok
}
