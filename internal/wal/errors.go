// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"errors"
	"fmt"
)

var (
	// ErrWALClosed is returned when the WAL is closed.
	ErrWALClosed = errors.New("WAL is closed")

	// ErrEmptyLogID is returned when an empty log ID is provided.
	ErrEmptyLogID = errors.New("log ID cannot be empty")

	// ErrEntryNotFound is returned when an entry doesn't exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNotRetrying is returned by ClaimRetry for entries that are no longer waiting on a retry.
	ErrNotRetrying = errors.New("entry is not awaiting retry")

	// ErrSettled is returned when a retry is requested for an entry that failed
	// permanently or exhausted its retries.
	ErrSettled = errors.New("entry is settled")
)

// PersistenceError reports a storage-layer failure. Writes never drop silently:
// if this is returned the entry may not be assumed durable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "WAL persistence error: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	var te *InvalidTransitionError
	if errors.As(err, &pe) || errors.As(err, &te) ||
		errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrNotRetrying) ||
		errors.Is(err, ErrSettled) || errors.Is(err, ErrWALClosed) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// InvalidTransitionError is returned when an update would break the status graph.
type InvalidTransitionError struct {
	LogID string
	Kind  Kind
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s entry %s: %s -> %s", e.Kind, e.LogID, e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
