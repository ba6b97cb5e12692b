// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/validation"
)

// WAL is the durable log that orchestration components write into.
type WAL interface {
	// Write durably persists a pending entry and returns its log ID.
	// Writing the same (kind, namespace, correlation_id, sequence) again
	// returns the existing log ID.
	Write(ctx context.Context, req WriteRequest) (string, error)

	// Get returns a copy of the entry.
	Get(ctx context.Context, logID string) (*Entry, error)

	// UpdateStatus moves an entry along the status graph.
	UpdateStatus(ctx context.Context, logID string, to Status, out *Outcome) (*Entry, error)

	// ScheduleRetry moves a failed entry to retrying and sets its next attempt time.
	ScheduleRetry(ctx context.Context, logID string) (*Entry, error)

	// Await blocks until the entry is settled or ctx is done.
	Await(ctx context.Context, logID string) (*Entry, error)

	// Replay returns a namespace's entries created in [from, to].
	Replay(ctx context.Context, namespace string, from, to time.Time, f Filter) ([]*Entry, error)

	// ByCorrelation returns every entry in a correlation group in creation order.
	ByCorrelation(ctx context.Context, correlationID string) ([]*Entry, error)

	// Stats returns WAL counters.
	Stats() Stats

	// Close shuts the WAL down.
	Close() error
}

// BadgerWAL implements WAL on BadgerDB.
type BadgerWAL struct {
	db       *badger.DB
	config   Config
	defaults Lifecycle

	locks    *keyedMutex
	watchers *watchers
	now      func() time.Time

	totalWrites   atomic.Int64
	totalUpdates  atomic.Int64
	totalRetries  atomic.Int64
	dedupedWrites atomic.Int64

	mu             sync.RWMutex
	closed         bool
	lastCompaction time.Time
}

var _ WAL = (*BadgerWAL)(nil)

// Open creates a BadgerWAL with the given configuration.
// The BadgerDB database is opened (or created) at the configured path.
func Open(cfg *Config) (*BadgerWAL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WAL config: %w", err)
	}

	w, err := open(cfg)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Bool("compression", cfg.Compression).
		Msg("WAL opened")
	return w, nil
}

// OpenForTesting creates a BadgerWAL without configuration validation so
// tests can use intervals shorter than the production minimums.
// WARNING: Do not use in production code.
func OpenForTesting(cfg *Config) (*BadgerWAL, error) {
	if cfg.NumCompactors < 2 {
		cfg.NumCompactors = 2
	}
	if cfg.GCRatio == 0 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = time.Minute
	}
	if cfg.AwaitPollInterval == 0 {
		cfg.AwaitPollInterval = 50 * time.Millisecond
	}
	return open(cfg)
}

// NewTestConfig returns a small, fast configuration rooted at dir for use
// with OpenForTesting.
func NewTestConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.Compression = false
	cfg.MemTableSize = 16 * 1024 * 1024
	cfg.ValueLogFileSize = 16 * 1024 * 1024
	cfg.BlockCacheSize = 8 * 1024 * 1024
	cfg.LeaseDuration = 30 * time.Second
	cfg.AwaitPollInterval = 20 * time.Millisecond
	cfg.Lifecycle = LifecycleConfig{
		RetryCount: 2,
		BaseDelay:  5 * time.Millisecond,
		Backoff:    string(BackoffFixed),
		TTL:        time.Hour,
		Timeout:    time.Second,
	}
	return cfg
}

func open(cfg *Config) (*BadgerWAL, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors

	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	if cfg.NumMemtables > 0 {
		opts.NumMemtables = cfg.NumMemtables
	}
	if cfg.BlockCacheSize > 0 {
		opts.BlockCacheSize = cfg.BlockCacheSize
	}
	if cfg.IndexCacheSize > 0 {
		opts.IndexCacheSize = cfg.IndexCacheSize
	}

	// Badger's own logger is too chatty at INFO
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}

	return &BadgerWAL{
		db:             db,
		config:         *cfg,
		defaults:       cfg.Lifecycle.Policy(),
		locks:          newKeyedMutex(),
		watchers:       newWatchers(),
		now:            func() time.Time { return time.Now().UTC() },
		lastCompaction: time.Now(),
	}, nil
}

func (w *BadgerWAL) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

// Write persists a new pending entry. It returns only after the entry is
// committed (fsynced when SyncWrites is set).
func (w *BadgerWAL) Write(ctx context.Context, req WriteRequest) (string, error) {
	start := time.Now()
	defer func() {
		RecordWALWriteLatency(time.Since(start).Seconds())
	}()

	if err := w.checkOpen(); err != nil {
		return "", err
	}

	if req.Kind == "" {
		req.Kind = KindForward
	}
	req.Lifecycle = req.Lifecycle.WithDefaults(w.defaults)
	if err := validation.Validate(req); err != nil {
		return "", fmt.Errorf("invalid write request: %w", err)
	}

	payload, err := encodePayload(req.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	series := seriesKey(req.Kind, req.Namespace, req.CorrelationID, req.Sequence)
	unlock := w.locks.Lock(string(series))
	defer unlock()

	now := w.now()
	entry := &Entry{
		LogID:         uuid.New().String(),
		Namespace:     req.Namespace,
		CorrelationID: req.CorrelationID,
		Sequence:      req.Sequence,
		Kind:          req.Kind,
		Payload:       payload,
		Target:        req.Target,
		Lifecycle:     req.Lifecycle,
		Status:        StatusPending,
		SagaID:        req.SagaID,
		Milestone:     req.Milestone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}

	var existing string
	err = w.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(series)
		if err == nil {
			return item.Value(func(val []byte) error {
				existing = string(val)
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get series key: %w", err)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := txn.Set(entryKey(entry.LogID), data); err != nil {
			return err
		}
		if err := txn.Set(series, []byte(entry.LogID)); err != nil {
			return err
		}
		if err := txn.Set(namespaceKey(entry.Namespace, entry.CreatedAt, entry.LogID), nil); err != nil {
			return err
		}
		if err := txn.Set(correlationKey(entry.CorrelationID, entry.LogID), nil); err != nil {
			return err
		}
		return txn.Set(statusKey(entry.Status, entry.LogID), nil)
	})
	if err != nil {
		RecordWALWriteFailure()
		return "", persistErr("write", err)
	}

	if existing != "" {
		w.dedupedWrites.Add(1)
		RecordWALDedupedWrite()
		logging.Ctx(ctx).Debug().
			Str("log_id", existing).
			Str("namespace", req.Namespace).
			Int("sequence", req.Sequence).
			Str("kind", string(req.Kind)).
			Msg("WAL write matched existing entry")
		return existing, nil
	}

	w.totalWrites.Add(1)
	RecordWALWrite(entry.Kind)
	logging.Ctx(ctx).Debug().
		Str("log_id", entry.LogID).
		Str("namespace", entry.Namespace).
		Int("sequence", entry.Sequence).
		Str("kind", string(entry.Kind)).
		Str("target", entry.Target).
		Msg("WAL entry written")
	return entry.LogID, nil
}

func encodePayload(p interface{}) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}

// Get returns a copy of the entry with the given log ID.
func (w *BadgerWAL) Get(ctx context.Context, logID string) (*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if logID == "" {
		return nil, ErrEmptyLogID
	}

	var entry *Entry
	err := w.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = loadEntry(txn, logID)
		return err
	})
	if err != nil {
		return nil, persistErr("get", err)
	}
	return entry, nil
}

func loadEntry(txn *badger.Txn, logID string) (*Entry, error) {
	item, err := txn.Get(entryKey(logID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}

	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// errNoChange lets a mutation leave the entry untouched without failing.
var errNoChange = errors.New("no change")

// mutate applies fn to the stored entry inside one transaction, keeping the
// status and due-retry indexes in step. Updates to one log ID are serialized.
func (w *BadgerWAL) mutate(ctx context.Context, op, logID string, fn func(e *Entry, now time.Time) error) (*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if logID == "" {
		return nil, ErrEmptyLogID
	}

	unlock := w.locks.Lock(logID)
	defer unlock()

	var (
		updated *Entry
		from    Status
		changed bool
	)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := loadEntry(txn, logID)
		if err != nil {
			return err
		}
		from = entry.Status
		oldNext := cloneTime(entry.NextAttemptAt)

		now := w.now()
		if err := fn(entry, now); err != nil {
			if errors.Is(err, errNoChange) {
				updated = entry
				return nil
			}
			return err
		}
		entry.UpdatedAt = now
		changed = true

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		if err := txn.Set(entryKey(logID), data); err != nil {
			return err
		}

		if from != entry.Status {
			if err := txn.Delete(statusKey(from, logID)); err != nil {
				return err
			}
			if err := txn.Set(statusKey(entry.Status, logID), nil); err != nil {
				return err
			}
		}
		if oldNext != nil && (from == StatusRetrying) {
			if err := txn.Delete(dueKey(*oldNext, logID)); err != nil {
				return err
			}
		}
		if entry.Status == StatusRetrying && entry.NextAttemptAt != nil {
			if err := txn.Set(dueKey(*entry.NextAttemptAt, logID), nil); err != nil {
				return err
			}
		}

		updated = entry
		return nil
	})
	if err != nil {
		if IsInvalidTransition(err) {
			RecordWALInvalidTransition()
		}
		return nil, persistErr(op, err)
	}

	if changed {
		w.totalUpdates.Add(1)
		if from != updated.Status {
			RecordWALTransition(from, updated.Status)
			logging.Ctx(ctx).Debug().
				Str("log_id", logID).
				Str("from", string(from)).
				Str("to", string(updated.Status)).
				Int("attempt", updated.AttemptCount).
				Msg("WAL status transition")
		}
		w.watchers.notify(logID)
	}
	return updated.Clone(), nil
}

// UpdateStatus moves an entry to a new status, rejecting moves the graph
// does not allow. The outcome, when given, supplies the result of a
// successful attempt or the error of a failed one.
func (w *BadgerWAL) UpdateStatus(ctx context.Context, logID string, to Status, out *Outcome) (*Entry, error) {
	if to == StatusRetrying {
		return w.ScheduleRetry(ctx, logID)
	}
	if out == nil {
		out = &Outcome{}
	}

	return w.mutate(ctx, "update_status", logID, func(e *Entry, now time.Time) error {
		if !CanTransition(e.Kind, e.Status, to) {
			return &InvalidTransitionError{LogID: logID, Kind: e.Kind, From: e.Status, To: to}
		}

		switch to {
		case StatusRunning, StatusCompensating:
			e.AttemptCount++
			e.LastAttemptAt = &now
			e.NextAttemptAt = nil
		case StatusCompleted, StatusCompensated:
			e.Result = cloneRaw(out.Result)
			e.LastError = ""
			e.CompletedAt = &now
			e.LeaseHolder = ""
			e.LeaseExpiry = nil
		case StatusFailed:
			e.LastError = out.Error
			e.Permanent = out.Permanent
			e.Exhausted = out.Exhausted
			e.NextAttemptAt = nil
		case StatusExpired:
			if out.Error != "" {
				e.LastError = out.Error
			}
			e.NextAttemptAt = nil
			e.LeaseHolder = ""
			e.LeaseExpiry = nil
		}
		e.Status = to
		return nil
	})
}

// ScheduleRetry computes the next attempt time from the entry's backoff
// policy and moves it to retrying. The delay for the n-th retry uses
// n = attempt_count and is capped at the entry's expiry. An entry that has
// already used up its retries is made due immediately so the scheduler can
// report the exhaustion without waiting out another delay.
func (w *BadgerWAL) ScheduleRetry(ctx context.Context, logID string) (*Entry, error) {
	e, err := w.mutate(ctx, "schedule_retry", logID, func(e *Entry, now time.Time) error {
		if e.Permanent || e.Exhausted {
			return ErrSettled
		}
		if !CanTransition(e.Kind, e.Status, StatusRetrying) {
			return &InvalidTransitionError{LogID: logID, Kind: e.Kind, From: e.Status, To: StatusRetrying}
		}

		next := now.Add(e.Lifecycle.Delay(e.AttemptCount))
		if e.AttemptCount > e.Lifecycle.RetryCount {
			next = now
		}
		if exp := e.ExpiresAt(); !exp.IsZero() && next.After(exp) {
			next = exp
		}

		e.Status = StatusRetrying
		e.NextAttemptAt = &next
		e.LeaseHolder = ""
		e.LeaseExpiry = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.totalRetries.Add(1)
	RecordWALRetryScheduled()
	return e, nil
}

// MarkExhausted fails a retrying entry for good after its retries ran out.
func (w *BadgerWAL) MarkExhausted(ctx context.Context, logID string) (*Entry, error) {
	return w.mutate(ctx, "mark_exhausted", logID, func(e *Entry, _ time.Time) error {
		if e.Status != StatusRetrying {
			return &InvalidTransitionError{LogID: logID, Kind: e.Kind, From: e.Status, To: StatusFailed}
		}
		e.Status = StatusFailed
		e.Exhausted = true
		e.NextAttemptAt = nil
		e.LeaseHolder = ""
		e.LeaseExpiry = nil
		if e.LastError == "" {
			e.LastError = "retries exhausted"
		}
		return nil
	})
}

// Expire moves a non-terminal entry to expired.
func (w *BadgerWAL) Expire(ctx context.Context, logID string) (*Entry, error) {
	return w.UpdateStatus(ctx, logID, StatusExpired, &Outcome{Error: "ttl elapsed"})
}

// Cancel fails an entry that is waiting for its first attempt or a retry so
// no further attempt is made. Entries in any other status are returned as is.
func (w *BadgerWAL) Cancel(ctx context.Context, logID, reason string) (*Entry, error) {
	return w.mutate(ctx, "cancel", logID, func(e *Entry, _ time.Time) error {
		if e.Status != StatusRetrying && e.Status != StatusPending {
			return errNoChange
		}
		e.Status = StatusFailed
		e.Permanent = true
		e.LastError = reason
		e.NextAttemptAt = nil
		e.LeaseHolder = ""
		e.LeaseExpiry = nil
		return nil
	})
}

// Ping reports whether the WAL is open and its database readable.
func (w *BadgerWAL) Ping(ctx context.Context) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return persistErr("ping", w.db.View(func(*badger.Txn) error { return nil }))
}

// DB returns the underlying BadgerDB instance. It must not be closed
// directly; use Close instead.
func (w *BadgerWAL) DB() *badger.DB {
	return w.db
}

// GetConfig returns the WAL configuration.
func (w *BadgerWAL) GetConfig() Config {
	return w.config
}

// DefaultLifecycle returns the policy applied to writes without their own.
func (w *BadgerWAL) DefaultLifecycle() Lifecycle {
	return w.defaults
}

// Close gracefully shuts down the WAL with a configurable timeout.
// If the database doesn't close within CloseTimeout, Close returns an error
// rather than hang.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	timeout := w.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	w.mu.Unlock()

	w.watchers.closeAll()
	logging.Info().Msg("Closing WAL")

	done := make(chan error, 1)
	go func() {
		done <- w.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return &PersistenceError{Op: "close", Err: err}
		}
		logging.Info().Msg("WAL closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

// RunGC runs BadgerDB value log garbage collection until nothing is left to rewrite.
func (w *BadgerWAL) RunGC() error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		RecordWALGCLatency(time.Since(start).Seconds())
		RecordWALGCRun()
	}()

	for {
		err := w.db.RunValueLogGC(w.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return &PersistenceError{Op: "gc", Err: err}
		}
	}
}
