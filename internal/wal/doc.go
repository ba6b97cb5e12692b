// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

/*
Package wal provides the durable write-ahead log of operation intents that
sagas, waves and the retry scheduler build on.

Every forward or compensation operation is written here, fsynced, before the
handler that performs it is invoked. An entry then moves through a fixed
status graph:

	pending ──► running ──► completed
	   │           └──────► failed ──► retrying ──► running
	   │                      │  ▲         │
	   │                      │  └─────────┘ (retries exhausted)
	   └──► compensating ◄────┘
	             ├──► compensated
	             └──► failed

Any non-terminal entry may move to expired once created_at + ttl has passed.
completed, compensated and expired are terminal. Forward entries never enter
the compensating states, and compensation entries never enter running or
completed.

# Storage Layout

Entries are JSON documents in BadgerDB under "e:<log_id>". Secondary index
keys carry no value and are maintained in the same transaction as the entry:

	n:<namespace>\x00<created_ns>\x00<log_id>       replay by namespace and time
	c:<correlation_id>\x00<log_id>                  saga/wave projections
	s:<kind>\x00<namespace>\x00<correlation>\x00<seq> → log_id (series key)
	x:<status>\x00<log_id>                          status scans
	r:<next_attempt_ns>\x00<log_id>                 due retries

The series key makes Write idempotent: writing the same (kind, namespace,
correlation_id, sequence) twice returns the first log_id. Entries are only
removed by compaction, and only once they are terminal and their TTL has
elapsed.

# Concurrency

Writes are serialized per series key and updates per log_id through a keyed
mutex; different correlation groups never contend on a shared lock. Await
blocks until an entry is settled, woken by status changes made through the
same BadgerWAL.
*/
package wal
