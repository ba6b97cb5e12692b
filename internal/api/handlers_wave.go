// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/wave"
)

// CreateWave handles POST /api/v1/waves.
func (rt *Router) CreateWave(w http.ResponseWriter, r *http.Request) {
	var req wave.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	created, err := rt.waves.CreateWave(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, http.StatusCreated, created)
}

// ListWaves handles GET /api/v1/waves.
func (rt *Router) ListWaves(w http.ResponseWriter, r *http.Request) {
	var statuses []wave.Status
	for _, s := range parseCommaSeparated(r.URL.Query().Get("status")) {
		st := wave.Status(s)
		if !st.Valid() {
			respondErr(w, r, badRequest("unknown wave status %q", s))
			return
		}
		statuses = append(statuses, st)
	}
	waves, err := rt.waves.ListWaves(r.Context(), statuses...)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondList(w, r, waves)
}

// GetWave handles GET /api/v1/waves/{id} with per-batch progress.
func (rt *Router) GetWave(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.waves.GetWaveStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, snap)
}

// ExecuteWave handles POST /api/v1/waves/{id}/execute.
func (rt *Router) ExecuteWave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isAsync(r) {
		res, err := rt.waves.ExecuteWave(context.WithoutCancel(r.Context()), id)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondData(w, r, http.StatusOK, res)
		return
	}

	current, err := rt.waves.GetWave(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if current.Status != wave.StatusPlanned {
		respondErr(w, r, fmt.Errorf("%w: wave %s is %s", wave.ErrInvalidState, id, current.Status))
		return
	}
	requestID := logging.RequestIDFromContext(r.Context())
	rt.background(func(ctx context.Context) {
		ctx = logging.ContextWithRequestID(ctx, requestID)
		if _, err := rt.waves.ExecuteWave(ctx, id); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("wave_id", id).Msg("Background wave execution failed")
		}
	})
	respondData(w, r, http.StatusAccepted, current)
}

// RollbackWave handles POST /api/v1/waves/{id}/rollback.
func (rt *Router) RollbackWave(w http.ResponseWriter, r *http.Request) {
	res, err := rt.waves.RollbackWave(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, res)
}
