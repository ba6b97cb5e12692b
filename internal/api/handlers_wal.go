// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/wavesaga/internal/validation"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// ReplayQuery holds the query parameters of GET /wal/replay.
type ReplayQuery struct {
	Namespace     string `validate:"required,keysafe,max=128"`
	CorrelationID string `validate:"omitempty,keysafe,max=256"`
	Target        string `validate:"omitempty,target,max=256"`
	Kind          string `validate:"omitempty,oneof=forward compensation"`
	From          time.Time
	To            time.Time
	Statuses      []wal.Status
}

func parseReplayQuery(r *http.Request) (*ReplayQuery, error) {
	q := r.URL.Query()
	rq := &ReplayQuery{
		Namespace:     q.Get("namespace"),
		CorrelationID: q.Get("correlation_id"),
		Target:        q.Get("target"),
		Kind:          q.Get("kind"),
	}
	var err error
	if rq.From, err = parseTimeParam(q.Get("from")); err != nil {
		return nil, badRequest("from: %v", err)
	}
	if rq.To, err = parseTimeParam(q.Get("to")); err != nil {
		return nil, badRequest("to: %v", err)
	}
	if !rq.From.IsZero() && !rq.To.IsZero() && rq.To.Before(rq.From) {
		return nil, badRequest("to must not be before from")
	}
	for _, s := range parseCommaSeparated(q.Get("status")) {
		st := wal.Status(s)
		if !st.Valid() {
			return nil, badRequest("unknown entry status %q", s)
		}
		rq.Statuses = append(rq.Statuses, st)
	}
	if err := validation.Validate(rq); err != nil {
		return nil, err
	}
	return rq, nil
}

// Replay handles GET /api/v1/wal/replay: entries of a namespace created in
// [from, to], ordered by sequence, read-only.
func (rt *Router) Replay(w http.ResponseWriter, r *http.Request) {
	rq, err := parseReplayQuery(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	entries, err := rt.journal.Replay(r.Context(), rq.Namespace, rq.From, rq.To, wal.Filter{
		Statuses:      rq.Statuses,
		CorrelationID: rq.CorrelationID,
		Target:        rq.Target,
		Kind:          wal.Kind(rq.Kind),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondList(w, r, entries)
}

// WALStats handles GET /api/v1/wal/stats.
func (rt *Router) WALStats(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, rt.journal.Stats())
}

// parseTimeParam accepts RFC 3339 or Unix seconds; empty is the zero time.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339 or Unix seconds", v)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// parseCommaSeparated splits a comma-separated list, dropping blanks.
func parseCommaSeparated(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
