// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/wavesaga/internal/api"
	"github.com/tomtom215/wavesaga/internal/config"
	"github.com/tomtom215/wavesaga/internal/dispatch"
	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/queue"
	"github.com/tomtom215/wavesaga/internal/saga"
	"github.com/tomtom215/wavesaga/internal/sagastore"
	"github.com/tomtom215/wavesaga/internal/scheduler"
	"github.com/tomtom215/wavesaga/internal/supervisor"
	"github.com/tomtom215/wavesaga/internal/supervisor/services"
	"github.com/tomtom215/wavesaga/internal/telemetry"
	"github.com/tomtom215/wavesaga/internal/wal"
	"github.com/tomtom215/wavesaga/internal/wave"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logging)

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("Wavesaga exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Wavesaga stopped")
}

//nolint:gocyclo // sequential start-up
func run(cfg *config.Config) error {
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("wal_path", cfg.WAL.Path).
		Str("store_path", cfg.Store.Path).
		Str("queue_backend", cfg.Queue.Backend).
		Msg("Starting Wavesaga")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logging.Error().Err(err).Msg("Error flushing traces")
		}
	}()

	journal, err := wal.Open(&cfg.WAL)
	if err != nil {
		return fmt.Errorf("open WAL: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing WAL")
		}
	}()

	registry := dispatch.NewRegistry()
	sink, err := queue.Open(cfg.Queue, registry)
	if err != nil {
		return fmt.Errorf("open queue backend: %w", err)
	}
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing queue backend")
			}
		}()
	}
	registry.Freeze()
	logging.Info().Strs("targets", registry.Targets()).Msg("Operation registry frozen")

	runner := dispatch.NewRunner(journal, registry, cfg.Dispatch)
	sched := scheduler.New(journal, runner, cfg.Scheduler)
	sched.OnExhausted(func(e *scheduler.RetriesExhaustedError) {
		logging.Warn().
			Str("log_id", e.LogID).
			Str("correlation_id", e.CorrelationID).
			Str("saga_id", e.SagaID).
			Str("target", e.Target).
			Int("attempts", e.Attempts).
			Str("last_error", e.LastError).
			Msg("Retries exhausted")
	})

	var (
		sagaRepo saga.Repository = saga.NewMemoryRepository()
		waveRepo wave.Repository = wave.NewMemoryRepository()
		checks                   = []api.Check{{Name: "wal", Check: journal.Ping}}
	)
	if cfg.Store.Persistent() {
		store, err := sagastore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing saga store")
			}
		}()
		sagaRepo, waveRepo = store, store
		checks = append(checks, api.Check{Name: "store", Check: store.Ping})
	} else {
		logging.Warn().Msg("STORE_PATH is empty: saga and wave state is kept in memory and lost on restart")
	}

	sagas := saga.New(journal, runner, registry, sagaRepo, cfg.Saga)
	waves := wave.NewController(sagas, journal, registry, waveRepo, cfg.Wave)

	// Entries left in flight by a crash are rescheduled before the
	// scheduler starts polling.
	res, err := sched.RecoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight entries: %w", err)
	}
	logging.Info().Int("found", res.Found).Int("rescheduled", res.Rescheduled).Msg("WAL entries recovered")

	router := api.NewRouter(sagas, waves, journal, api.Config{
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		RateLimitReqs:     cfg.Server.RateLimitReqs,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
		RateLimitDisabled: cfg.Server.RateLimitDisabled,
	}, checks...)
	if cfg.Server.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger("supervisor"), cfg.Supervisor)
	tree.AddDataService(services.NewSchedulerService(sched))
	tree.AddDataService(services.NewCompactorService(wal.NewCompactor(journal)))
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout))

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	// Resumed sagas wait on their retrying milestones, so they need the
	// scheduler running.
	go resumeInterrupted(ctx, sagas, waves)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			treeErr = fmt.Errorf("supervisor tree: %w", err)
		}
		cancel()
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return treeErr
}

// resumeInterrupted drives sagas and then waves that a previous process left
// unfinished. Sagas go first since a wave resumes through its saga.
func resumeInterrupted(ctx context.Context, sagas *saga.Orchestrator, waves *wave.Controller) {
	if _, err := sagas.ResumeInterrupted(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Failed to resume interrupted sagas")
	}
	if _, err := waves.ResumeInterrupted(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Failed to resume interrupted waves")
	}
}
