// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/dispatch"
	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/saga"
	"github.com/tomtom215/wavesaga/internal/validation"
	"github.com/tomtom215/wavesaga/internal/wal"
	"github.com/tomtom215/wavesaga/internal/wave"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata describes the response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Count     *int      `json:"count,omitempty"`
}

// APIError is the error part of the envelope.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeTooLarge        = "REQUEST_TOO_LARGE"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, resp *Response) {
	resp.Metadata.Timestamp = time.Now().UTC()
	if r != nil {
		resp.Metadata.RequestID = logging.RequestIDFromContext(r.Context())
	}
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, &Response{Status: "success", Data: data})
}

func respondList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	writeJSON(w, r, http.StatusOK, &Response{Status: "success", Data: items, Metadata: Metadata{Count: &n}})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	writeJSON(w, r, status, &Response{
		Status: "error",
		Error:  &APIError{Code: code, Message: message, Details: details},
	})
}

// respondErr maps a domain error onto a status code and envelope.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
	case errors.As(err, &maxErr):
		respondError(w, r, http.StatusRequestEntityTooLarge, CodeTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), nil)
	case errors.Is(err, errBadRequest),
		errors.Is(err, dispatch.ErrUnknownTarget),
		errors.Is(err, saga.ErrDuplicateMilestone),
		errors.Is(err, saga.ErrInvalidMilestone),
		errors.Is(err, saga.ErrInvalidContext),
		errors.Is(err, wave.ErrInvalidRequest):
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
	case errors.Is(err, saga.ErrSagaNotFound),
		errors.Is(err, wave.ErrWaveNotFound),
		errors.Is(err, wal.ErrEntryNotFound):
		respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, saga.ErrSagaRunning),
		errors.Is(err, saga.ErrInvalidState),
		errors.Is(err, saga.ErrCorrelationInUse),
		errors.Is(err, wave.ErrWaveBusy),
		errors.Is(err, wave.ErrInvalidState):
		respondError(w, r, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, wal.ErrWALClosed):
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "write-ahead log is closed", nil)
	default:
		logging.Ctx(r.Context()).Error().
			Err(err).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Msg("API request failed")
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}
	return validation.Validate(dst)
}

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
