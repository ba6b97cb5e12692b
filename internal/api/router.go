// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/wavesaga/internal/saga"
	"github.com/tomtom215/wavesaga/internal/wal"
	"github.com/tomtom215/wavesaga/internal/wave"
)

// Sagas is the saga orchestrator as the API uses it.
type Sagas interface {
	Design(ctx context.Context, req saga.DesignRequest) (string, error)
	Execute(ctx context.Context, sagaID string, sagaCtx json.RawMessage) (*saga.Result, error)
	Abort(ctx context.Context, sagaID string) (*saga.Instance, error)
	GetStatus(ctx context.Context, sagaID string) (*saga.Instance, error)
	History(ctx context.Context, sagaID string) ([]*wal.Entry, error)
	List(ctx context.Context, f saga.ListFilter) ([]*saga.Instance, error)
}

// Waves is the wave controller as the API uses it.
type Waves interface {
	CreateWave(ctx context.Context, req wave.CreateRequest) (*wave.Wave, error)
	ExecuteWave(ctx context.Context, waveID string) (*wave.ExecuteResult, error)
	RollbackWave(ctx context.Context, waveID string) (*wave.ExecuteResult, error)
	GetWave(ctx context.Context, waveID string) (*wave.Wave, error)
	GetWaveStatus(ctx context.Context, waveID string) (*wave.Snapshot, error)
	ListWaves(ctx context.Context, statuses ...wave.Status) ([]*wave.Wave, error)
}

// Journal is the read side of the WAL.
type Journal interface {
	Replay(ctx context.Context, namespace string, from, to time.Time, f wal.Filter) ([]*wal.Entry, error)
	Stats() wal.Stats
}

// Check is a named readiness probe.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds router settings.
type Config struct {
	MaxBodyBytes      int64
	RateLimitReqs     int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// Router serves the HTTP API.
type Router struct {
	sagas   Sagas
	waves   Waves
	journal Journal
	checks  []Check
	config  Config

	// background tracks executions started with ?async=true.
	background func(fn func(ctx context.Context))
	startTime  time.Time
}

// NewRouter creates the API over the given components.
func NewRouter(sagas Sagas, waves Waves, journal Journal, cfg Config, checks ...Check) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	return &Router{
		sagas:      sagas,
		waves:      waves,
		journal:    journal,
		checks:     checks,
		config:     cfg,
		background: runDetached,
		startTime:  time.Now(),
	}
}

// runDetached runs fn on a context that outlives the request.
func runDetached(fn func(ctx context.Context)) {
	go fn(context.Background())
}

// Handler builds the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Get("/live", rt.HealthLive)
		r.Get("/ready", rt.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(rt.config))
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics)
		r.Use(MaxBody(rt.config.MaxBodyBytes))

		r.Route("/sagas", func(r chi.Router) {
			r.Post("/", rt.DesignSaga)
			r.Get("/", rt.ListSagas)
			r.Get("/{id}", rt.GetSaga)
			r.Post("/{id}/execute", rt.ExecuteSaga)
			r.Post("/{id}/abort", rt.AbortSaga)
			r.Get("/{id}/history", rt.SagaHistory)
		})

		r.Route("/waves", func(r chi.Router) {
			r.Post("/", rt.CreateWave)
			r.Get("/", rt.ListWaves)
			r.Get("/{id}", rt.GetWave)
			r.Post("/{id}/execute", rt.ExecuteWave)
			r.Post("/{id}/rollback", rt.RollbackWave)
		})

		r.Route("/wal", func(r chi.Router) {
			r.Get("/replay", rt.Replay)
			r.Get("/stats", rt.WALStats)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "no such endpoint", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}

// isAsync reports whether the caller asked not to wait for completion.
func isAsync(r *http.Request) bool {
	switch r.URL.Query().Get("async") {
	case "1", "true", "yes":
		return true
	}
	return false
}
