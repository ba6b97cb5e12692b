// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package services

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/wavesaga/internal/wal"
)

var (
	_ suture.Service = (*LoopService)(nil)
	_ suture.Service = (*HTTPServerService)(nil)
)

type fakeWorker struct {
	running  atomic.Bool
	stops    atomic.Int32
	startErr error
}

func (w *fakeWorker) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.running.Store(true)
	return nil
}

func (w *fakeWorker) Stop() {
	w.running.Store(false)
	w.stops.Add(1)
}

func (w *fakeWorker) IsRunning() bool { return w.running.Load() }

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoopService(t *testing.T) {
	t.Run("starts and stops the worker", func(t *testing.T) {
		w := &fakeWorker{}
		svc := NewSchedulerService(w)
		if svc.String() != "retry-scheduler" {
			t.Errorf("String() = %s", svc.String())
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		waitUntil(t, w.IsRunning)
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
		if w.IsRunning() || w.stops.Load() != 1 {
			t.Errorf("running = %v stops = %d", w.IsRunning(), w.stops.Load())
		}
	})

	t.Run("start failure is returned", func(t *testing.T) {
		boom := errors.New("boom")
		svc := NewLoopService("worker", &fakeWorker{startErr: boom})
		if err := svc.Serve(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Serve() = %v, want %v", err, boom)
		}
	})
}

func TestCompactorService(t *testing.T) {
	cfg := wal.NewTestConfig(filepath.Join(t.TempDir(), "wal"))
	store, err := wal.OpenForTesting(&cfg)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer store.Close()

	compactor := wal.NewCompactor(store)
	svc := NewCompactorService(compactor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	waitUntil(t, compactor.IsRunning)
	cancel()
	<-done
	if compactor.IsRunning() {
		t.Error("compactor still running after cancel")
	}
}

type fakeServer struct {
	listenErr   error
	shutdownErr error
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{stop: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.shutdowns.Add(1)
	close(s.stop)
	return s.shutdownErr
}

func TestHTTPServerService(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		srv := newFakeServer()
		svc := NewHTTPServerService(srv, ":0", time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve() = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop")
		}
		if srv.shutdowns.Load() != 1 {
			t.Errorf("shutdowns = %d", srv.shutdowns.Load())
		}
	})

	t.Run("listen failure", func(t *testing.T) {
		srv := newFakeServer()
		srv.listenErr = errors.New("address in use")
		svc := NewHTTPServerService(srv, ":0", 0)
		if err := svc.Serve(context.Background()); err == nil {
			t.Error("Serve() returned nil on listen failure")
		}
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("default shutdown timeout = %s", svc.shutdownTimeout)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		srv := newFakeServer()
		srv.shutdownErr = errors.New("deadline exceeded")
		svc := NewHTTPServerService(srv, ":0", time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()
		time.Sleep(20 * time.Millisecond)
		cancel()
		if err := <-done; err == nil || errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want shutdown error", err)
		}
	})
}
