// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package saga

import "errors"

var (
	// ErrSagaNotFound is returned when no saga has the given id.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrSagaRunning is returned when another call is already driving the saga.
	ErrSagaRunning = errors.New("saga is already executing")

	// ErrInvalidState is returned when an operation does not apply to the
	// saga's current state.
	ErrInvalidState = errors.New("invalid saga state")

	// ErrDuplicateMilestone is returned when two milestones share a name.
	ErrDuplicateMilestone = errors.New("duplicate milestone name")

	// ErrInvalidMilestone is returned for a milestone definition that is
	// well-formed but unusable, such as one whose input is not JSON.
	ErrInvalidMilestone = errors.New("invalid milestone")

	// ErrInvalidContext is returned when the execution context is not valid JSON.
	ErrInvalidContext = errors.New("saga context must be valid JSON")

	// ErrCorrelationInUse is returned when another saga of the same type
	// already owns the requested correlation id.
	ErrCorrelationInUse = errors.New("correlation id already in use")
)
