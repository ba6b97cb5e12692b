// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// Store is the part of the WAL a Runner needs.
type Store interface {
	Get(ctx context.Context, logID string) (*wal.Entry, error)
	UpdateStatus(ctx context.Context, logID string, to wal.Status, out *wal.Outcome) (*wal.Entry, error)
	ScheduleRetry(ctx context.Context, logID string) (*wal.Entry, error)
}

// Config holds runner settings. Loaded under the "dispatch" key.
type Config struct {
	// DefaultTimeout bounds handler calls for entries without a lifecycle timeout.
	DefaultTimeout time.Duration `koanf:"default_timeout"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Validate checks the runner settings.
func (c Config) Validate() error {
	if c.DefaultTimeout <= 0 {
		return errors.New("dispatch: default_timeout must be positive")
	}
	if c.Breaker.Timeout < 0 || c.Breaker.Interval < 0 {
		return errors.New("dispatch: breaker durations must not be negative")
	}
	return nil
}

// Runner performs single attempts of WAL entries.
type Runner struct {
	store    Store
	registry *Registry
	cfg      Config
	tracer   trace.Tracer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[json.RawMessage]
}

// NewRunner creates a runner dispatching through reg.
func NewRunner(store Store, reg *Registry, cfg Config) *Runner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	return &Runner{
		store:    store,
		registry: reg,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/tomtom215/wavesaga/internal/dispatch"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[json.RawMessage]),
	}
}

// Registry returns the handler registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

func (r *Runner) breaker(target string) *gobreaker.CircuitBreaker[json.RawMessage] {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[target]
	if !ok {
		cb = newBreaker(target, r.cfg.Breaker)
		r.breakers[target] = cb
	}
	return cb
}

// BreakerStates reports the state of every breaker created so far.
func (r *Runner) BreakerStates() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.breakers))
	for t, cb := range r.breakers {
		out[t] = cb.State().String()
	}
	return out
}

// Attempt runs one attempt of the entry and returns it as recorded afterwards.
//
// A settled entry is returned untouched, so replaying an attempt never
// repeats a side effect. An entry that cannot be claimed (for instance one
// already running elsewhere) is also returned untouched. Otherwise the entry
// is claimed, its handler invoked, and the outcome recorded: success
// completes it, a PermanentError fails it for good, and any other error
// (including a timeout or an open breaker) fails it and schedules a retry.
//
// The returned error is reserved for WAL failures; handler failures are
// reported through the entry.
func (r *Runner) Attempt(ctx context.Context, logID string) (*wal.Entry, error) {
	e, err := r.store.Get(ctx, logID)
	if err != nil {
		return nil, err
	}
	if e.Settled() {
		RecordAttempt(e.Target, OutcomeSkipped, 0)
		return e, nil
	}

	active := wal.ActiveStatus(e.Kind)
	if !wal.CanTransition(e.Kind, e.Status, active) {
		logging.Ctx(ctx).Debug().
			Str("log_id", logID).
			Str("status", string(e.Status)).
			Msg("Entry not runnable, skipping attempt")
		return e, nil
	}

	ctx, span := r.tracer.Start(ctx, "dispatch.attempt", trace.WithAttributes(
		attribute.String("wal.log_id", e.LogID),
		attribute.String("wal.target", e.Target),
		attribute.String("wal.kind", string(e.Kind)),
		attribute.Int("wal.sequence", e.Sequence),
	))
	defer span.End()

	claimed, err := r.store.UpdateStatus(ctx, logID, active, nil)
	if err != nil {
		if wal.IsInvalidTransition(err) {
			// Lost a race with another attempt.
			return r.store.Get(ctx, logID)
		}
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("wal.attempt", claimed.AttemptCount))

	start := time.Now()
	var (
		result  json.RawMessage
		callErr error
	)
	if h, ok := r.registry.Lookup(claimed.Target); ok {
		result, callErr = r.invoke(ctx, h, claimed)
	} else {
		callErr = Permanent(fmt.Errorf("%w: %s", ErrUnknownTarget, claimed.Target))
	}

	outcome := classify(callErr)
	RecordAttempt(claimed.Target, outcome, time.Since(start).Seconds())
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, outcome)
	}

	return r.record(ctx, claimed, result, callErr, outcome)
}

// invoke calls the handler through the target's breaker. The call is
// abandoned, not killed, when the timeout fires: the handler sees its
// context cancelled and the attempt counts as failed.
func (r *Runner) invoke(ctx context.Context, h OperationHandler, e *wal.Entry) (json.RawMessage, error) {
	timeout := e.Lifecycle.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		out json.RawMessage
		err error
	}
	done := make(chan reply, 1)
	cb := r.breaker(e.Target)
	handlerEntry := e.Clone()

	go func() {
		out, err := cb.Execute(func() (json.RawMessage, error) {
			return safeHandle(callCtx, h, handlerEntry)
		})
		done <- reply{out, err}
	}()

	select {
	case rep := <-done:
		if rep.err != nil && callCtx.Err() != nil && !IsPermanent(rep.err) {
			return nil, abandoned(timeout, callCtx.Err())
		}
		return rep.out, rep.err
	case <-callCtx.Done():
		return nil, abandoned(timeout, callCtx.Err())
	}
}

func abandoned(timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("handler timed out after %v: %w", timeout, err)
	}
	return fmt.Errorf("handler interrupted: %w", err)
}

// safeHandle turns a handler panic into a permanent failure.
func safeHandle(ctx context.Context, h OperationHandler, e *wal.Entry) (out json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = Permanent(fmt.Errorf("handler panic: %v", p))
		}
	}()
	return h.Handle(ctx, e)
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsPermanent(err):
		return OutcomePermanent
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeOpen
	default:
		return OutcomeTransient
	}
}

func (r *Runner) record(ctx context.Context, e *wal.Entry, result json.RawMessage, callErr error, outcome string) (*wal.Entry, error) {
	log := logging.Ctx(ctx).With().
		Str("log_id", e.LogID).
		Str("target", e.Target).
		Str("kind", string(e.Kind)).
		Int("attempt", e.AttemptCount).
		Logger()
	if e.SagaID != "" {
		log = log.With().Str("saga_id", e.SagaID).Logger()
	}

	var (
		updated *wal.Entry
		err     error
	)
	switch {
	case callErr == nil:
		updated, err = r.store.UpdateStatus(ctx, e.LogID, wal.SuccessStatus(e.Kind), &wal.Outcome{Result: result})

	case outcome == OutcomePermanent:
		log.Warn().Err(callErr).Msg("Handler failed permanently")
		updated, err = r.store.UpdateStatus(ctx, e.LogID, wal.StatusFailed, &wal.Outcome{Error: callErr.Error(), Permanent: true})

	default:
		log.Info().Err(callErr).Str("outcome", outcome).Msg("Handler failed, scheduling retry")
		updated, err = r.store.UpdateStatus(ctx, e.LogID, wal.StatusFailed, &wal.Outcome{Error: callErr.Error()})
		if err == nil {
			var retried *wal.Entry
			retried, err = r.store.ScheduleRetry(ctx, e.LogID)
			if err == nil {
				updated = retried
			}
		}
	}

	if err != nil {
		if wal.IsInvalidTransition(err) || errors.Is(err, wal.ErrSettled) {
			log.Debug().Err(err).Msg("Entry moved on while attempt was in flight")
			return r.store.Get(ctx, e.LogID)
		}
		return nil, err
	}
	return updated, nil
}
