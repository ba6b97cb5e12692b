// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

// transitions is the status graph. Expiry edges are added in CanTransition.
var transitions = map[Status][]Status{
	StatusPending:      {StatusRunning, StatusCompensating, StatusFailed},
	StatusRunning:      {StatusCompleted, StatusFailed},
	StatusFailed:       {StatusRetrying, StatusCompensating},
	StatusRetrying:     {StatusRunning, StatusCompensating, StatusFailed},
	StatusCompensating: {StatusCompensated, StatusFailed},
}

// forwardOnly and compensationOnly restrict which kinds may enter a status.
var (
	forwardOnly      = map[Status]bool{StatusRunning: true, StatusCompleted: true}
	compensationOnly = map[Status]bool{StatusCompensating: true, StatusCompensated: true}
)

// CanTransition reports whether an entry of the given kind may move from one status to another.
func CanTransition(kind Kind, from, to Status) bool {
	if kind == KindCompensation && forwardOnly[to] {
		return false
	}
	if kind != KindCompensation && compensationOnly[to] {
		return false
	}
	if to == StatusExpired {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// activeStatus is the in-flight status an attempt moves an entry of the given kind into.
func activeStatus(kind Kind) Status {
	if kind == KindCompensation {
		return StatusCompensating
	}
	return StatusRunning
}

// successStatus is the status a successful attempt ends in.
func successStatus(kind Kind) Status {
	if kind == KindCompensation {
		return StatusCompensated
	}
	return StatusCompleted
}

// ActiveStatus is exported for dispatchers that claim entries.
func ActiveStatus(kind Kind) Status { return activeStatus(kind) }

// SuccessStatus is exported for dispatchers that record outcomes.
func SuccessStatus(kind Kind) Status { return successStatus(kind) }
