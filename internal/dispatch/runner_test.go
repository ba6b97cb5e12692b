// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/wal"
)

func setupWAL(t *testing.T) *wal.BadgerWAL {
	t.Helper()
	cfg := wal.NewTestConfig(filepath.Join(t.TempDir(), "wal"))
	w, err := wal.OpenForTesting(&cfg)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// countingHandler returns result and err on every call and counts calls.
type countingHandler struct {
	calls  atomic.Int32
	result json.RawMessage
	err    error
}

func (h *countingHandler) Handle(context.Context, *wal.Entry) (json.RawMessage, error) {
	h.calls.Add(1)
	return h.result, h.err
}

func writeEntry(t *testing.T, w *wal.BadgerWAL, target string, seq int, kind wal.Kind) string {
	t.Helper()
	id, err := w.Write(context.Background(), wal.WriteRequest{
		Namespace:     "test",
		CorrelationID: "corr",
		Sequence:      seq,
		Kind:          kind,
		Target:        target,
		Payload:       map[string]int{"seq": seq},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return id
}

func newRunner(w *wal.BadgerWAL, handlers map[string]OperationHandler) *Runner {
	reg := NewRegistry()
	for target, h := range handlers {
		reg.MustRegister(target, h)
	}
	reg.Freeze()
	cfg := DefaultConfig()
	cfg.DefaultTimeout = time.Second
	return NewRunner(w, reg, cfg)
}

func TestAttemptSuccess(t *testing.T) {
	w := setupWAL(t)
	h := &countingHandler{result: json.RawMessage(`{"reserved":3}`)}
	r := newRunner(w, map[string]OperationHandler{"svc.do": h})
	id := writeEntry(t, w, "svc.do", 1, wal.KindForward)

	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if e.Status != wal.StatusCompleted {
		t.Fatalf("Status = %s, want completed", e.Status)
	}
	if string(e.Result) != `{"reserved":3}` {
		t.Errorf("Result = %s", e.Result)
	}
	if e.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", e.AttemptCount)
	}

	// Replaying a settled entry must not call the handler again.
	for i := 0; i < 3; i++ {
		if _, err := r.Attempt(context.Background(), id); err != nil {
			t.Fatalf("replay Attempt failed: %v", err)
		}
	}
	if got := h.calls.Load(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestAttemptCompensation(t *testing.T) {
	w := setupWAL(t)
	h := &countingHandler{}
	r := newRunner(w, map[string]OperationHandler{"svc.undo": h})
	id := writeEntry(t, w, "svc.undo", -1, wal.KindCompensation)

	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if e.Status != wal.StatusCompensated {
		t.Errorf("Status = %s, want compensated", e.Status)
	}
}

func TestAttemptPermanentFailure(t *testing.T) {
	w := setupWAL(t)
	h := &countingHandler{err: Permanent(errors.New("schema mismatch"))}
	r := newRunner(w, map[string]OperationHandler{"svc.do": h})
	id := writeEntry(t, w, "svc.do", 1, wal.KindForward)

	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if e.Status != wal.StatusFailed || !e.Permanent || !e.Settled() {
		t.Errorf("entry = status %s permanent %v", e.Status, e.Permanent)
	}
	if !strings.Contains(e.LastError, "schema mismatch") {
		t.Errorf("LastError = %q", e.LastError)
	}
	if e.NextAttemptAt != nil {
		t.Error("permanent failure scheduled a retry")
	}
}

func TestAttemptTransientFailureSchedulesRetry(t *testing.T) {
	w := setupWAL(t)
	h := &countingHandler{err: errors.New("connection reset")}
	r := newRunner(w, map[string]OperationHandler{"svc.do": h})
	id := writeEntry(t, w, "svc.do", 1, wal.KindForward)

	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if e.Status != wal.StatusRetrying {
		t.Fatalf("Status = %s, want retrying", e.Status)
	}
	if e.NextAttemptAt == nil {
		t.Error("NextAttemptAt not set")
	}
	if e.LastError != "connection reset" {
		t.Errorf("LastError = %q", e.LastError)
	}

	// A retrying entry is runnable again.
	h.err = nil
	e, err = r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("retry Attempt failed: %v", err)
	}
	if e.Status != wal.StatusCompleted || e.AttemptCount != 2 {
		t.Errorf("after retry: status %s attempts %d", e.Status, e.AttemptCount)
	}
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
	w := setupWAL(t)
	blocking := HandlerFunc(func(ctx context.Context, _ *wal.Entry) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := newRunner(w, map[string]OperationHandler{"svc.slow": blocking})

	id, err := w.Write(context.Background(), wal.WriteRequest{
		Namespace:     "test",
		CorrelationID: "corr",
		Sequence:      1,
		Target:        "svc.slow",
		Lifecycle:     wal.Lifecycle{RetryCount: 1, BaseDelay: time.Millisecond, Backoff: wal.BackoffFixed, Timeout: 20 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	start := time.Now()
	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Attempt ignored the timeout")
	}
	if e.Status != wal.StatusRetrying {
		t.Errorf("Status = %s, want retrying", e.Status)
	}
	if !strings.Contains(e.LastError, "timed out") {
		t.Errorf("LastError = %q", e.LastError)
	}
}

func TestAttemptUnknownTarget(t *testing.T) {
	w := setupWAL(t)
	r := newRunner(w, nil)
	id := writeEntry(t, w, "svc.missing", 1, wal.KindForward)

	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if e.Status != wal.StatusFailed || !e.Permanent {
		t.Errorf("entry = status %s permanent %v", e.Status, e.Permanent)
	}
	if !strings.Contains(e.LastError, ErrUnknownTarget.Error()) {
		t.Errorf("LastError = %q", e.LastError)
	}
}

func TestAttemptHandlerPanic(t *testing.T) {
	w := setupWAL(t)
	panicky := HandlerFunc(func(context.Context, *wal.Entry) (json.RawMessage, error) {
		panic("nil map")
	})
	r := newRunner(w, map[string]OperationHandler{"svc.bad": panicky})
	id := writeEntry(t, w, "svc.bad", 1, wal.KindForward)

	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if e.Status != wal.StatusFailed || !e.Permanent {
		t.Errorf("entry = status %s permanent %v", e.Status, e.Permanent)
	}
}

func TestAttemptBreakerOpens(t *testing.T) {
	w := setupWAL(t)
	h := &countingHandler{err: errors.New("503")}
	reg := NewRegistry()
	reg.MustRegister("svc.flaky", h)
	cfg := DefaultConfig()
	cfg.Breaker = BreakerConfig{MaxRequests: 1, Timeout: time.Minute, FailureThreshold: 2}
	r := NewRunner(w, reg, cfg)

	for seq := 1; seq <= 3; seq++ {
		id := writeEntry(t, w, "svc.flaky", seq, wal.KindForward)
		e, err := r.Attempt(context.Background(), id)
		if err != nil {
			t.Fatalf("Attempt %d failed: %v", seq, err)
		}
		if e.Status != wal.StatusRetrying {
			t.Errorf("entry %d: status %s, want retrying", seq, e.Status)
		}
	}

	if got := h.calls.Load(); got != 2 {
		t.Errorf("handler called %d times, want 2 before the breaker opened", got)
	}
	if state := r.BreakerStates()["svc.flaky"]; state != "open" {
		t.Errorf("breaker state = %q, want open", state)
	}
}

func TestAttemptPermanentDoesNotTripBreaker(t *testing.T) {
	w := setupWAL(t)
	h := &countingHandler{err: Permanent(errors.New("invalid"))}
	reg := NewRegistry()
	reg.MustRegister("svc.strict", h)
	cfg := DefaultConfig()
	cfg.Breaker.FailureThreshold = 1
	r := NewRunner(w, reg, cfg)

	for seq := 1; seq <= 3; seq++ {
		id := writeEntry(t, w, "svc.strict", seq, wal.KindForward)
		if _, err := r.Attempt(context.Background(), id); err != nil {
			t.Fatalf("Attempt failed: %v", err)
		}
	}
	if got := h.calls.Load(); got != 3 {
		t.Errorf("handler called %d times, want 3", got)
	}
}

func TestAttemptSkipsRunningEntry(t *testing.T) {
	w := setupWAL(t)
	h := &countingHandler{}
	r := newRunner(w, map[string]OperationHandler{"svc.do": h})
	id := writeEntry(t, w, "svc.do", 1, wal.KindForward)

	if _, err := w.UpdateStatus(context.Background(), id, wal.StatusRunning, nil); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	e, err := r.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if e.Status != wal.StatusRunning || h.calls.Load() != 0 {
		t.Errorf("running entry was attempted again: status %s calls %d", e.Status, h.calls.Load())
	}
}

func TestAttemptPassesEntryToHandler(t *testing.T) {
	w := setupWAL(t)
	var seen string
	h := HandlerFunc(func(_ context.Context, e *wal.Entry) (json.RawMessage, error) {
		var p map[string]int
		if err := e.UnmarshalPayload(&p); err != nil {
			return nil, Permanent(err)
		}
		seen = fmt.Sprintf("%s/%d/%d", e.Target, e.Sequence, p["seq"])
		return nil, nil
	})
	r := newRunner(w, map[string]OperationHandler{"svc.do": h})
	id := writeEntry(t, w, "svc.do", 4, wal.KindForward)

	if _, err := r.Attempt(context.Background(), id); err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if seen != "svc.do/4/4" {
		t.Errorf("handler saw %q", seen)
	}
}
