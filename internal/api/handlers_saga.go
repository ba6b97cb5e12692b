// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/saga"
)

// ExecuteRequest is the optional body of POST /sagas/{id}/execute.
type ExecuteRequest struct {
	Context json.RawMessage `json:"context,omitempty"`
}

// DesignResponse is returned by POST /sagas.
type DesignResponse struct {
	SagaID string `json:"saga_id"`
}

// DesignSaga handles POST /api/v1/sagas.
func (rt *Router) DesignSaga(w http.ResponseWriter, r *http.Request) {
	var req saga.DesignRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	id, err := rt.sagas.Design(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, http.StatusCreated, DesignResponse{SagaID: id})
}

// ListSagas handles GET /api/v1/sagas.
func (rt *Router) ListSagas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := saga.ListFilter{Type: q.Get("type")}
	for _, s := range parseCommaSeparated(q.Get("state")) {
		st := saga.State(s)
		if !st.Valid() {
			respondErr(w, r, badRequest("unknown saga state %q", s))
			return
		}
		f.States = append(f.States, st)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10000 {
			respondErr(w, r, badRequest("limit must be between 1 and 10000"))
			return
		}
		f.Limit = n
	}

	sagas, err := rt.sagas.List(r.Context(), f)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondList(w, r, sagas)
}

// GetSaga handles GET /api/v1/sagas/{id}.
func (rt *Router) GetSaga(w http.ResponseWriter, r *http.Request) {
	inst, err := rt.sagas.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, inst)
}

// ExecuteSaga handles POST /api/v1/sagas/{id}/execute. Without ?async it
// blocks until the saga reaches a terminal state and returns the result.
func (rt *Router) ExecuteSaga(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ExecuteRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	if !isAsync(r) {
		// A client disconnect must not abandon the saga halfway through.
		res, err := rt.sagas.Execute(context.WithoutCancel(r.Context()), id, req.Context)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondData(w, r, http.StatusOK, res)
		return
	}

	inst, err := rt.sagas.GetStatus(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if inst.State != saga.StateCreated {
		respondErr(w, r, saga.ErrInvalidState)
		return
	}
	requestID := logging.RequestIDFromContext(r.Context())
	rt.background(func(ctx context.Context) {
		ctx = logging.ContextWithRequestID(ctx, requestID)
		if _, err := rt.sagas.Execute(ctx, id, req.Context); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("saga_id", id).Msg("Background saga execution failed")
		}
	})
	respondData(w, r, http.StatusAccepted, inst)
}

// AbortSaga handles POST /api/v1/sagas/{id}/abort.
func (rt *Router) AbortSaga(w http.ResponseWriter, r *http.Request) {
	inst, err := rt.sagas.Abort(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, inst)
}

// SagaHistory handles GET /api/v1/sagas/{id}/history.
func (rt *Router) SagaHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.sagas.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondList(w, r, entries)
}

// decodeOptionalJSON is decodeJSON for bodies that may be empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
