// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package dispatch routes WAL entries to the operation handlers that perform
// them.
//
// Handlers are registered by target name in a Registry at startup; the
// Registry is frozen before any saga runs, so an unknown target is caught
// when a saga is designed rather than when it executes. A Runner performs
// one attempt of one entry: it claims the entry in the WAL, calls the handler
// through the target's circuit breaker under a timeout, and records the
// outcome. Handler errors are transient unless wrapped with Permanent.
package dispatch
