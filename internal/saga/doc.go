// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

/*
Package saga drives multi-step workflows whose steps each have a paired
compensation.

A saga is designed once as an ordered list of milestones and then executed.
Every milestone is written to the WAL before its handler is invoked, so a
crash at any point leaves a record of what was in flight. Failed attempts
are retried by the scheduler according to the entry's lifecycle policy;
the orchestrator waits for each entry to settle before moving on.

When a milestone fails for good (permanent error, retries exhausted, TTL
expired or abort), the Compensator walks the completed milestones in strict
reverse order and runs their compensations. Compensation entries use
negative sequence numbers within the saga's correlation group. A
compensation that itself fails for good leaves the saga in
compensation_failed, which is final and needs an operator.

State machine:

	created -> running -> completed
	                   -> compensating -> compensated
	                                   -> compensation_failed
	completed -> compensating (post-hoc, via Compensate)

Milestone records and the compensation cursor are persisted through a
Repository after every transition, and WAL writes are idempotent per
sequence, so Resume can continue a saga after a crash without repeating a
step that already settled.
*/
package saga
