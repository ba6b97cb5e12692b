// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package saga

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/dispatch"
	"github.com/tomtom215/wavesaga/internal/scheduler"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// callLog records handler invocations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(target string) {
	c.mu.Lock()
	c.calls = append(c.calls, target)
	c.mu.Unlock()
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *callLog) count(target string) int {
	n := 0
	for _, t := range c.list() {
		if t == target {
			n++
		}
	}
	return n
}

type harness struct {
	t     *testing.T
	wal   *wal.BadgerWAL
	reg   *dispatch.Registry
	run   *dispatch.Runner
	sched *scheduler.Scheduler
	repo  Repository
	calls *callLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := wal.NewTestConfig(filepath.Join(t.TempDir(), "wal"))
	w, err := wal.OpenForTesting(&cfg)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	return &harness{
		t:     t,
		wal:   w,
		reg:   dispatch.NewRegistry(),
		repo:  NewMemoryRepository(),
		calls: &callLog{},
	}
}

// handle registers a handler that logs the call and then runs fn.
func (h *harness) handle(target string, fn func(e *wal.Entry) (json.RawMessage, error)) {
	h.reg.MustRegister(target, dispatch.HandlerFunc(func(_ context.Context, e *wal.Entry) (json.RawMessage, error) {
		h.calls.add(target)
		return fn(e)
	}))
}

func (h *harness) succeed(targets ...string) {
	for _, target := range targets {
		target := target
		h.handle(target, func(*wal.Entry) (json.RawMessage, error) {
			return json.RawMessage(`{"done":"` + target + `"}`), nil
		})
	}
}

// start freezes the registry, starts the scheduler and returns an orchestrator.
func (h *harness) start() *Orchestrator {
	h.t.Helper()
	h.reg.Freeze()
	dcfg := dispatch.DefaultConfig()
	dcfg.DefaultTimeout = time.Second
	dcfg.Breaker.FailureThreshold = 100
	h.run = dispatch.NewRunner(h.wal, h.reg, dcfg)

	h.sched = scheduler.New(h.wal, h.run, scheduler.Config{
		PollInterval:   5 * time.Millisecond,
		BatchSize:      50,
		MaxConcurrency: 4,
	})
	if err := h.sched.Start(context.Background()); err != nil {
		h.t.Fatalf("scheduler Start failed: %v", err)
	}
	h.t.Cleanup(h.sched.Stop)

	return h.orchestrator()
}

func (h *harness) orchestrator() *Orchestrator {
	return New(h.wal, h.run, h.reg, h.repo, DefaultConfig())
}

func threeSteps() []Milestone {
	return []Milestone{
		{Name: "a", ForwardRef: "a.do", CompensationRef: "a.undo"},
		{Name: "b", ForwardRef: "b.do", CompensationRef: "b.undo"},
		{Name: "c", ForwardRef: "c.do", CompensationRef: "c.undo"},
	}
}

func (h *harness) design(o *Orchestrator, milestones []Milestone) string {
	h.t.Helper()
	id, err := o.Design(context.Background(), DesignRequest{Type: "migration", Milestones: milestones})
	if err != nil {
		h.t.Fatalf("Design failed: %v", err)
	}
	return id
}

func execute(t *testing.T, o *Orchestrator, id string) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := o.Execute(ctx, id, json.RawMessage(`{"tenant":"acme"}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return res
}

func entriesByKind(t *testing.T, w *wal.BadgerWAL, correlationID string) (forward, comp []*wal.Entry) {
	t.Helper()
	entries, err := w.ByCorrelation(context.Background(), correlationID)
	if err != nil {
		t.Fatalf("ByCorrelation failed: %v", err)
	}
	for _, e := range entries {
		if e.Kind == wal.KindCompensation {
			comp = append(comp, e)
		} else {
			forward = append(forward, e)
		}
	}
	return forward, comp
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestDesign(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.do", "c.undo")
	o := h.start()

	id := h.design(o, threeSteps())
	inst, err := o.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if inst.State != StateCreated {
		t.Errorf("State = %s, want created", inst.State)
	}
	if inst.CorrelationID != id {
		t.Errorf("CorrelationID = %s, want saga id", inst.CorrelationID)
	}
	if len(inst.Records) != 3 || inst.Records[2].Status != MilestonePending {
		t.Errorf("Records = %+v", inst.Records)
	}
	if len(id) != len("saga_migration_")+8 {
		t.Errorf("id = %s, want saga_migration_<hex8>", id)
	}
}

func TestDesignValidation(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo")
	o := h.start()
	ctx := context.Background()

	tests := []struct {
		name       string
		milestones []Milestone
		want       error
	}{
		{
			name:       "unregistered target",
			milestones: []Milestone{{Name: "a", ForwardRef: "a.do", CompensationRef: "missing.undo"}},
			want:       dispatch.ErrUnknownTarget,
		},
		{
			name: "duplicate name",
			milestones: []Milestone{
				{Name: "a", ForwardRef: "a.do", CompensationRef: "a.undo"},
				{Name: "a", ForwardRef: "a.do", CompensationRef: "a.undo"},
			},
			want: ErrDuplicateMilestone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Design(ctx, DesignRequest{Type: "m", Milestones: tt.milestones})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	invalid := []DesignRequest{
		{Type: "", Milestones: []Milestone{{Name: "a", ForwardRef: "a.do", CompensationRef: "a.undo"}}},
		{Type: "m"},
		{Type: "m", Milestones: []Milestone{{Name: "a", ForwardRef: "a.do"}}},
		{Type: "m", Milestones: []Milestone{{Name: "a", ForwardRef: "bad target", CompensationRef: "a.undo"}}},
	}
	for i, req := range invalid {
		if _, err := o.Design(ctx, req); err == nil {
			t.Errorf("request %d: expected validation error", i)
		}
	}
}

// Scenario A: every milestone succeeds.
func TestDesignRejectsSharedCorrelationID(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.do", "c.undo")
	o := h.start()
	ctx := context.Background()

	first, err := o.Design(ctx, DesignRequest{Type: "migration", CorrelationID: "batch-7", Milestones: threeSteps()})
	if err != nil {
		t.Fatalf("Design failed: %v", err)
	}
	if _, err := o.Design(ctx, DesignRequest{Type: "migration", CorrelationID: "batch-7", Milestones: threeSteps()}); !errors.Is(err, ErrCorrelationInUse) {
		t.Fatalf("second Design error = %v, want ErrCorrelationInUse", err)
	}

	// Another type has its own WAL namespace, so the id is free there.
	other, err := o.Design(ctx, DesignRequest{Type: "billing", CorrelationID: "batch-7", Milestones: threeSteps()})
	if err != nil {
		t.Fatalf("Design of other type failed: %v", err)
	}

	if res := execute(t, o, first); res.Status != StateCompleted {
		t.Fatalf("first saga Status = %s", res.Status)
	}
	if res := execute(t, o, other); res.Status != StateCompleted {
		t.Fatalf("other saga Status = %s", res.Status)
	}
	if n := h.calls.count("a.do"); n != 2 {
		t.Errorf("a.do called %d times, want 2", n)
	}
}

func TestExecuteAllMilestonesSucceed(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.do", "c.undo")
	o := h.start()
	id := h.design(o, threeSteps())

	res := execute(t, o, id)
	if res.Status != StateCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}
	if len(res.Completed) != 3 || len(res.Compensated) != 0 || res.Failure != nil {
		t.Errorf("Result = %+v", res)
	}

	forward, comp := entriesByKind(t, h.wal, id)
	if len(forward) != 3 {
		t.Fatalf("forward entries = %d, want 3", len(forward))
	}
	for i, e := range forward {
		if e.Status != wal.StatusCompleted {
			t.Errorf("entry %d status = %s, want completed", i, e.Status)
		}
		if e.Sequence != i+1 || e.Namespace != "migration" || e.SagaID != id {
			t.Errorf("entry %d = seq %d ns %s saga %s", i, e.Sequence, e.Namespace, e.SagaID)
		}
	}
	if len(comp) != 0 {
		t.Errorf("compensation entries = %d, want 0", len(comp))
	}
	assertCalls(t, h.calls.list(), "a.do", "b.do", "c.do")

	inst, _ := o.GetStatus(context.Background(), id)
	if string(inst.Records[1].Result) != `{"done":"b.do"}` {
		t.Errorf("record result = %s", inst.Records[1].Result)
	}
	if inst.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestExecutePayloadCarriesContext(t *testing.T) {
	h := newHarness(t)
	var got atomic.Pointer[Payload]
	h.handle("a.do", func(e *wal.Entry) (json.RawMessage, error) {
		p, err := DecodePayload(e)
		if err != nil {
			return nil, dispatch.Permanent(err)
		}
		got.Store(p)
		return nil, nil
	})
	h.succeed("a.undo")
	o := h.start()

	id := h.design(o, []Milestone{{
		Name: "a", ForwardRef: "a.do", CompensationRef: "a.undo",
		Input: json.RawMessage(`{"batch":1}`),
	}})
	execute(t, o, id)

	p := got.Load()
	if p == nil {
		t.Fatal("handler not called")
	}
	if p.SagaID != id || p.Milestone != "a" || p.Index != 0 {
		t.Errorf("payload = %+v", p)
	}
	if string(p.Context) != `{"tenant":"acme"}` || string(p.Input) != `{"batch":1}` {
		t.Errorf("payload context %s input %s", p.Context, p.Input)
	}
}

// Scenario B: the last milestone exhausts its retries.
func TestExecuteRetriesExhaustedCompensatesInReverse(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.undo")
	h.handle("c.do", func(*wal.Entry) (json.RawMessage, error) {
		return nil, errors.New("downstream timeout")
	})
	o := h.start()
	id := h.design(o, threeSteps())

	res := execute(t, o, id)
	if res.Status != StateCompensated {
		t.Fatalf("Status = %s, want compensated", res.Status)
	}
	if res.Failure == nil || res.Failure.Milestone != "c" || res.Failure.Reason != ReasonRetriesExhausted {
		t.Errorf("Failure = %+v", res.Failure)
	}

	forward, comp := entriesByKind(t, h.wal, id)
	if len(forward) != 3 {
		t.Fatalf("forward entries = %d, want 3", len(forward))
	}
	wantForward := []wal.Status{wal.StatusCompleted, wal.StatusCompleted, wal.StatusFailed}
	for i, e := range forward {
		if e.Status != wantForward[i] {
			t.Errorf("forward %d status = %s, want %s", i, e.Status, wantForward[i])
		}
	}
	if !forward[2].Exhausted || forward[2].AttemptCount != 3 {
		t.Errorf("c entry exhausted=%v attempts=%d", forward[2].Exhausted, forward[2].AttemptCount)
	}

	if len(comp) != 2 {
		t.Fatalf("compensation entries = %d, want 2", len(comp))
	}
	for _, e := range comp {
		if e.Status != wal.StatusCompensated {
			t.Errorf("compensation %s status = %s", e.Milestone, e.Status)
		}
	}

	calls := h.calls.list()
	assertCalls(t, calls[len(calls)-2:], "b.undo", "a.undo")
	if h.calls.count("c.undo") != 0 {
		t.Error("failed milestone was compensated")
	}
}

func TestExplicitZeroRetriesFailsOnFirstAttempt(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.undo")
	h.handle("b.do", func(*wal.Entry) (json.RawMessage, error) {
		return nil, errors.New("unavailable")
	})
	o := h.start()

	var milestones []Milestone
	if err := json.Unmarshal([]byte(`[
		{"name": "a", "forward_ref": "a.do", "compensation_ref": "a.undo"},
		{"name": "b", "forward_ref": "b.do", "compensation_ref": "b.undo", "lifecycle": {"retry_count": 0}}
	]`), &milestones); err != nil {
		t.Fatalf("decode milestones: %v", err)
	}
	id := h.design(o, milestones)

	res := execute(t, o, id)
	if res.Status != StateCompensated {
		t.Fatalf("Status = %s, want compensated", res.Status)
	}
	if n := h.calls.count("b.do"); n != 1 {
		t.Errorf("b.do attempted %d times, want 1", n)
	}

	forward, _ := entriesByKind(t, h.wal, id)
	if len(forward) != 2 {
		t.Fatalf("forward entries = %d, want 2", len(forward))
	}
	lc := forward[1].Lifecycle
	def := h.wal.DefaultLifecycle()
	if lc.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", lc.RetryCount)
	}
	if lc.BaseDelay != def.BaseDelay || lc.Backoff != def.Backoff || lc.TTL != def.TTL {
		t.Errorf("Lifecycle = %+v, want default delays from %+v", lc, def)
	}
}

func TestCompensationOrderAfterPermanentFailure(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.undo")
	h.handle("c.do", func(*wal.Entry) (json.RawMessage, error) {
		return nil, dispatch.Permanent(errors.New("schema mismatch"))
	})
	o := h.start()
	id := h.design(o, threeSteps())

	res := execute(t, o, id)
	if res.Status != StateCompensated {
		t.Fatalf("Status = %s, want compensated", res.Status)
	}
	if res.Failure.Reason != ReasonHandlerFailed {
		t.Errorf("Reason = %s", res.Failure.Reason)
	}
	assertCalls(t, h.calls.list(), "a.do", "b.do", "c.do", "b.undo", "a.undo")

	_, comp := entriesByKind(t, h.wal, id)
	seqs := map[string]int{}
	for _, e := range comp {
		seqs[e.Milestone] = e.Sequence
	}
	if seqs["a"] != -1 || seqs["b"] != -2 {
		t.Errorf("compensation sequences = %v", seqs)
	}
}

func TestCompensationPayloadCarriesForwardResult(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do")
	var forwardResult atomic.Value
	h.handle("a.undo", func(e *wal.Entry) (json.RawMessage, error) {
		p, err := DecodePayload(e)
		if err != nil {
			return nil, dispatch.Permanent(err)
		}
		forwardResult.Store(string(p.ForwardResult))
		return nil, nil
	})
	h.handle("b.do", func(*wal.Entry) (json.RawMessage, error) {
		return nil, dispatch.Permanent(errors.New("rejected"))
	})
	h.succeed("b.undo")
	o := h.start()
	id := h.design(o, threeSteps()[:2])

	execute(t, o, id)
	if got, _ := forwardResult.Load().(string); got != `{"done":"a.do"}` {
		t.Errorf("forward_result = %q", got)
	}
}

func TestCompensationFailureIsFinal(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "c.undo")
	h.handle("b.undo", func(*wal.Entry) (json.RawMessage, error) {
		return nil, dispatch.Permanent(errors.New("cannot restore"))
	})
	h.handle("c.do", func(*wal.Entry) (json.RawMessage, error) {
		return nil, dispatch.Permanent(errors.New("boom"))
	})
	o := h.start()
	id := h.design(o, threeSteps())

	res := execute(t, o, id)
	if res.Status != StateCompensationFailed {
		t.Fatalf("Status = %s, want compensation_failed", res.Status)
	}
	if res.CompensationFailure == nil || res.CompensationFailure.Milestone != "b" {
		t.Errorf("CompensationFailure = %+v", res.CompensationFailure)
	}
	if h.calls.count("a.undo") != 0 {
		t.Error("compensation continued past a failed compensation")
	}

	inst, _ := o.GetStatus(context.Background(), id)
	if inst.Records[1].Status != MilestoneCompensationFailed || inst.Records[0].Status != MilestoneCompleted {
		t.Errorf("records = %s, %s", inst.Records[0].Status, inst.Records[1].Status)
	}

	// Neither Resume nor Execute touches a finished saga.
	if res, err := o.Resume(context.Background(), id); err != nil || res.Status != StateCompensationFailed {
		t.Errorf("Resume = %+v, %v", res, err)
	}
	if h.calls.count("a.undo") != 0 {
		t.Error("Resume ran compensation on a finished saga")
	}
}

func TestExecuteFinishedSagaIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.do", "c.undo")
	o := h.start()
	id := h.design(o, threeSteps())

	execute(t, o, id)
	for i := 0; i < 2; i++ {
		res := execute(t, o, id)
		if res.Status != StateCompleted {
			t.Errorf("replay Status = %s", res.Status)
		}
	}
	if got := len(h.calls.list()); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestAbortIsCooperative(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.succeed("a.do", "a.undo", "b.undo", "c.do", "c.undo")
	h.handle("b.do", func(*wal.Entry) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{}`), nil
	})
	o := h.start()
	id := h.design(o, threeSteps())

	done := make(chan *Result, 1)
	go func() {
		res, err := o.Execute(context.Background(), id, nil)
		if err != nil {
			t.Errorf("Execute failed: %v", err)
		}
		done <- res
	}()

	<-started
	if _, err := o.Abort(context.Background(), id); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	close(release)

	var res *Result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("saga did not finish after abort")
	}

	if res.Status != StateCompensated {
		t.Fatalf("Status = %s, want compensated", res.Status)
	}
	if res.Failure == nil || res.Failure.Reason != ReasonAborted {
		t.Errorf("Failure = %+v", res.Failure)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "c" {
		t.Errorf("Skipped = %v", res.Skipped)
	}
	assertCalls(t, h.calls.list(), "a.do", "b.do", "b.undo", "a.undo")
}

func TestAbortDuringLastMilestone(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.undo")
	h.handle("c.do", func(*wal.Entry) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{}`), nil
	})
	o := h.start()
	id := h.design(o, threeSteps())

	done := make(chan *Result, 1)
	go func() {
		res, err := o.Execute(context.Background(), id, nil)
		if err != nil {
			t.Errorf("Execute failed: %v", err)
		}
		done <- res
	}()

	<-started
	if _, err := o.Abort(context.Background(), id); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	close(release)

	var res *Result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("saga did not finish after abort")
	}

	if res.Status != StateCompensated {
		t.Fatalf("Status = %s, want compensated", res.Status)
	}
	if res.Failure == nil || res.Failure.Reason != ReasonAborted {
		t.Errorf("Failure = %+v", res.Failure)
	}
	if len(res.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none", res.Skipped)
	}
	assertCalls(t, h.calls.list(), "a.do", "b.do", "c.do", "c.undo", "b.undo", "a.undo")

	inst, err := o.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if !inst.AbortRequested {
		t.Error("AbortRequested not recorded")
	}
}

func TestAbortCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	attempted := make(chan struct{}, 10)
	h.succeed("a.do", "a.undo", "b.undo")
	h.handle("b.do", func(*wal.Entry) (json.RawMessage, error) {
		attempted <- struct{}{}
		return nil, errors.New("unavailable")
	})
	o := h.start()
	id := h.design(o, threeSteps()[:2])

	// Long retry delay so the saga is parked waiting on the scheduler.
	inst, _ := o.repo.Get(context.Background(), id)
	inst.Milestones[1].Lifecycle = &wal.Lifecycle{RetryCount: 5, BaseDelay: time.Hour, Backoff: wal.BackoffFixed, TTL: 2 * time.Hour}
	if err := o.repo.Save(context.Background(), inst); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	done := make(chan *Result, 1)
	go func() {
		res, _ := o.Execute(context.Background(), id, nil)
		done <- res
	}()

	<-attempted
	deadline := time.Now().Add(5 * time.Second)
	for {
		e, _ := h.wal.ByCorrelation(context.Background(), id)
		if len(e) == 2 && e[1].Status == wal.StatusRetrying {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entry never reached retrying")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := o.Abort(context.Background(), id); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	select {
	case res := <-done:
		if res.Status != StateCompensated || res.Failure.Reason != ReasonAborted {
			t.Errorf("Result = %s %+v", res.Status, res.Failure)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not wake the saga")
	}
	if h.calls.count("b.undo") != 0 {
		t.Error("milestone that never completed was compensated")
	}
	if h.calls.count("a.undo") != 1 {
		t.Error("completed milestone was not compensated")
	}
}

func TestAbortBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.do", "c.undo")
	o := h.start()
	id := h.design(o, threeSteps())

	inst, err := o.Abort(context.Background(), id)
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if inst.State != StateCompensated {
		t.Errorf("State = %s, want compensated", inst.State)
	}
	if res := execute(t, o, id); res.Status != StateCompensated || len(res.Skipped) != 3 {
		t.Errorf("Execute after abort = %+v", res)
	}
	if len(h.calls.list()) != 0 {
		t.Errorf("handlers called: %v", h.calls.list())
	}
}

func TestPostHocCompensate(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.do", "c.undo")
	o := h.start()
	id := h.design(o, threeSteps())
	execute(t, o, id)

	ctx := context.Background()
	res, err := o.Compensate(ctx, id, "quality gate failed")
	if err != nil {
		t.Fatalf("Compensate failed: %v", err)
	}
	if res.Status != StateCompensated || len(res.Compensated) != 3 {
		t.Fatalf("Result = %+v", res)
	}
	if res.Failure.Reason != ReasonRequested || res.Failure.Error != "quality gate failed" {
		t.Errorf("Failure = %+v", res.Failure)
	}
	calls := h.calls.list()
	assertCalls(t, calls[3:], "c.undo", "b.undo", "a.undo")

	// Compensating again is a no-op.
	if _, err := o.Compensate(ctx, id, "again"); err != nil {
		t.Fatalf("second Compensate failed: %v", err)
	}
	if len(h.calls.list()) != 6 {
		t.Errorf("handler calls = %d, want 6", len(h.calls.list()))
	}

	other := h.design(o, threeSteps())
	if _, err := o.Compensate(ctx, other, "x"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Compensate on created saga: err = %v, want ErrInvalidState", err)
	}
}

func TestHistoryAndList(t *testing.T) {
	h := newHarness(t)
	h.succeed("a.do", "a.undo", "b.do", "b.undo", "c.do", "c.undo")
	o := h.start()
	first := h.design(o, threeSteps())
	second := h.design(o, threeSteps())
	execute(t, o, first)

	history, err := o.History(context.Background(), first)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("history = %d entries, want 3", len(history))
	}

	done, err := o.List(context.Background(), ListFilter{States: []State{StateCompleted}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(done) != 1 || done[0].ID != first {
		t.Errorf("completed sagas = %v", done)
	}
	all, _ := o.List(context.Background(), ListFilter{Type: "migration"})
	if len(all) != 2 || all[1].ID != second {
		t.Errorf("all sagas = %d", len(all))
	}

	if _, err := o.GetStatus(context.Background(), "saga_missing_00000000"); !errors.Is(err, ErrSagaNotFound) {
		t.Errorf("GetStatus unknown: err = %v", err)
	}
}
