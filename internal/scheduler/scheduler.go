// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package scheduler re-dispatches WAL entries that are waiting on a retry.
//
// The scheduler runs independently of any saga. Each tick it lists retrying
// entries whose next attempt time has passed, takes a durable lease on each,
// and then either expires it (TTL elapsed), fails it as exhausted
// (attempt_count > retry_count), or hands it back to the dispatcher for
// another attempt. Concurrency and dispatch rate are bounded so a backlog of
// retries cannot overwhelm downstream handlers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// Store is the part of the WAL the scheduler uses.
type Store interface {
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*wal.Entry, error)
	ClaimRetry(ctx context.Context, logID, holder string) (bool, error)
	MarkExhausted(ctx context.Context, logID string) (*wal.Entry, error)
	Expire(ctx context.Context, logID string) (*wal.Entry, error)
	ListByStatus(ctx context.Context, statuses ...wal.Status) ([]*wal.Entry, error)
	UpdateStatus(ctx context.Context, logID string, to wal.Status, out *wal.Outcome) (*wal.Entry, error)
	ScheduleRetry(ctx context.Context, logID string) (*wal.Entry, error)
}

// Attempter performs one attempt of an entry. dispatch.Runner implements it.
type Attempter interface {
	Attempt(ctx context.Context, logID string) (*wal.Entry, error)
}

// Config holds scheduler settings. Loaded under the "scheduler" key.
type Config struct {
	// PollInterval is the time between scans for due retries.
	PollInterval time.Duration `koanf:"poll_interval"`

	// BatchSize caps the entries taken per scan.
	BatchSize int `koanf:"batch_size"`

	// MaxConcurrency caps attempts in flight at once.
	MaxConcurrency int64 `koanf:"max_concurrency"`

	// DispatchRate caps attempts started per second. 0 means unlimited.
	DispatchRate float64 `koanf:"dispatch_rate"`

	// DispatchBurst is the limiter burst size.
	DispatchBurst int `koanf:"dispatch_burst"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		BatchSize:      100,
		MaxConcurrency: 8,
		DispatchRate:   50,
		DispatchBurst:  10,
	}
}

// Validate checks the scheduler settings.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("scheduler: poll_interval must be positive")
	}
	if c.BatchSize < 1 {
		return errors.New("scheduler: batch_size must be at least 1")
	}
	if c.MaxConcurrency < 1 {
		return errors.New("scheduler: max_concurrency must be at least 1")
	}
	if c.DispatchRate < 0 {
		return errors.New("scheduler: dispatch_rate must not be negative")
	}
	return nil
}

// RetriesExhaustedError is raised when an entry used up its retries.
type RetriesExhaustedError struct {
	LogID         string
	CorrelationID string
	SagaID        string
	Target        string
	Attempts      int
	RetryCount    int
	LastError     string
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted for %s (target %s) after %d attempts: %s",
		e.LogID, e.Target, e.Attempts, e.LastError)
}

// IsRetriesExhausted reports whether err is a RetriesExhaustedError.
func IsRetriesExhausted(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}

// Stats counts scheduler outcomes since start.
type Stats struct {
	Dispatched  int64 `json:"dispatched"`
	Succeeded   int64 `json:"succeeded"`
	Rescheduled int64 `json:"rescheduled"`
	Failed      int64 `json:"failed"`
	Exhausted   int64 `json:"exhausted"`
	Expired     int64 `json:"expired"`
	Skipped     int64 `json:"skipped"`
}

// Scheduler is the retry loop.
type Scheduler struct {
	store       Store
	attempter   Attempter
	config      Config
	leaseHolder string

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	now     func() time.Time

	exhausted   chan *RetriesExhaustedError
	onExhausted func(*RetriesExhaustedError)

	dispatched, succeeded, rescheduled, failed atomic.Int64
	exhaustedCount, expired, skipped           atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	stopping bool
	stopDone chan struct{}
}

// New creates a scheduler.
func New(store Store, attempter Attempter, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}

	limit := rate.Inf
	if cfg.DispatchRate > 0 {
		limit = rate.Limit(cfg.DispatchRate)
	}
	burst := cfg.DispatchBurst
	if burst < 1 {
		burst = 1
	}

	return &Scheduler{
		store:       store,
		attempter:   attempter,
		config:      cfg,
		leaseHolder: fmt.Sprintf("scheduler-%s", uuid.New().String()[:8]),
		sem:         semaphore.NewWeighted(cfg.MaxConcurrency),
		limiter:     rate.NewLimiter(limit, burst),
		now:         func() time.Time { return time.Now().UTC() },
		exhausted:   make(chan *RetriesExhaustedError, 64),
	}
}

// OnExhausted registers a callback for exhausted entries. Call before Start.
func (s *Scheduler) OnExhausted(fn func(*RetriesExhaustedError)) {
	s.mu.Lock()
	s.onExhausted = fn
	s.mu.Unlock()
}

// Exhausted delivers retries-exhausted signals. Signals are dropped while the
// channel is full; the WAL entry itself always records the outcome.
func (s *Scheduler) Exhausted() <-chan *RetriesExhaustedError {
	return s.exhausted
}

// LeaseHolder is the identity this scheduler claims entries under.
func (s *Scheduler) LeaseHolder() string {
	return s.leaseHolder
}

// Start begins the background loop. It runs until Stop is called or ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	for s.stopping {
		stopDone := s.stopDone
		s.mu.Unlock()
		<-stopDone
		s.mu.Lock()
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.stopDone = make(chan struct{})
	loopCtx := s.ctx
	done := s.stopDone
	s.mu.Unlock()

	go s.run(loopCtx, done)

	logging.Info().
		Dur("interval", s.config.PollInterval).
		Int64("max_concurrency", s.config.MaxConcurrency).
		Float64("dispatch_rate", s.config.DispatchRate).
		Str("lease_holder", s.leaseHolder).
		Msg("Retry scheduler started")
	return nil
}

// Stop gracefully stops the loop, waiting for in-flight attempts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.stopping = true
	stopDone := s.stopDone
	s.mu.Unlock()

	<-stopDone

	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()

	logging.Info().Msg("Retry scheduler stopped")
}

// IsRunning returns whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("Retry scheduler scan failed")
			}
		}
	}
}

// RunOnce processes one batch of due retries and waits for them to finish.
// It returns the number of entries it took a lease on.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	due, err := s.store.DueRetries(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var (
		wg      sync.WaitGroup
		claimed atomic.Int64
	)
	for _, e := range due {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(e *wal.Entry) {
			defer wg.Done()
			defer s.sem.Release(1)
			if s.process(ctx, e) {
				claimed.Add(1)
			}
		}(e)
	}
	wg.Wait()

	RecordScan(len(due), time.Since(start).Seconds())
	return int(claimed.Load()), nil
}

// process handles one due entry and reports whether it held the lease.
func (s *Scheduler) process(ctx context.Context, listed *wal.Entry) bool {
	log := logging.Ctx(ctx).With().
		Str("log_id", listed.LogID).
		Str("target", listed.Target).
		Str("correlation_id", listed.CorrelationID).
		Logger()

	ok, err := s.store.ClaimRetry(ctx, listed.LogID, s.leaseHolder)
	if err != nil {
		if !errors.Is(err, wal.ErrNotRetrying) {
			log.Error().Err(err).Msg("Retry scheduler failed to claim entry")
		}
		s.skipped.Add(1)
		return false
	}
	if !ok {
		s.skipped.Add(1)
		return false
	}

	now := s.now()
	switch {
	case listed.Expired(now):
		if _, err := s.store.Expire(ctx, listed.LogID); err != nil {
			log.Error().Err(err).Msg("Retry scheduler failed to expire entry")
			return true
		}
		s.expired.Add(1)
		RecordOutcome(outcomeExpired)
		log.Warn().Time("created_at", listed.CreatedAt).Dur("ttl", listed.Lifecycle.TTL).Msg("Entry expired before its retries completed")

	case listed.AttemptCount > listed.Lifecycle.RetryCount:
		e, err := s.store.MarkExhausted(ctx, listed.LogID)
		if err != nil {
			log.Error().Err(err).Msg("Retry scheduler failed to mark entry exhausted")
			return true
		}
		s.exhaustedCount.Add(1)
		RecordOutcome(outcomeExhausted)
		log.Warn().
			Int("attempts", e.AttemptCount).
			Int("retry_count", e.Lifecycle.RetryCount).
			Str("saga_id", e.SagaID).
			Str("last_error", e.LastError).
			Msg("Retries exhausted")
		s.signal(&RetriesExhaustedError{
			LogID:         e.LogID,
			CorrelationID: e.CorrelationID,
			SagaID:        e.SagaID,
			Target:        e.Target,
			Attempts:      e.AttemptCount,
			RetryCount:    e.Lifecycle.RetryCount,
			LastError:     e.LastError,
		})

	default:
		if err := s.limiter.Wait(ctx); err != nil {
			return true
		}
		s.dispatched.Add(1)
		e, err := s.attempter.Attempt(ctx, listed.LogID)
		if err != nil {
			log.Error().Err(err).Msg("Retry attempt failed to record")
			s.failed.Add(1)
			RecordOutcome(outcomeError)
			return true
		}
		switch {
		case e.Succeeded():
			s.succeeded.Add(1)
			RecordOutcome(outcomeSucceeded)
		case e.Status == wal.StatusRetrying:
			s.rescheduled.Add(1)
			RecordOutcome(outcomeRescheduled)
		default:
			s.failed.Add(1)
			RecordOutcome(outcomeFailed)
		}
	}
	return true
}

func (s *Scheduler) signal(err *RetriesExhaustedError) {
	s.mu.Lock()
	cb := s.onExhausted
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}

	select {
	case s.exhausted <- err:
	default:
		logging.Debug().Str("log_id", err.LogID).Msg("Exhausted channel full, signal dropped")
	}
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Dispatched:  s.dispatched.Load(),
		Succeeded:   s.succeeded.Load(),
		Rescheduled: s.rescheduled.Load(),
		Failed:      s.failed.Load(),
		Exhausted:   s.exhaustedCount.Load(),
		Expired:     s.expired.Load(),
		Skipped:     s.skipped.Load(),
	}
}
