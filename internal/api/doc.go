// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

/*
Package api is the HTTP control plane, routed with chi.

# Endpoints

Sagas:

	POST /api/v1/sagas                design a saga
	GET  /api/v1/sagas                list sagas (?type=&state=&limit=)
	GET  /api/v1/sagas/{id}           saga snapshot
	POST /api/v1/sagas/{id}/execute   run it (?async=true returns 202 at once)
	POST /api/v1/sagas/{id}/abort     request cooperative abort
	GET  /api/v1/sagas/{id}/history   WAL entries written by the saga

Waves:

	POST /api/v1/waves                create a wave
	GET  /api/v1/waves                list waves (?status=)
	GET  /api/v1/waves/{id}           wave snapshot with per-batch status
	POST /api/v1/waves/{id}/execute   run it (?async=true)
	POST /api/v1/waves/{id}/rollback  roll a wave back

WAL:

	GET /api/v1/wal/replay   ?namespace=&from=&to=&status=&correlation_id=&target=&kind=
	GET /api/v1/wal/stats

Operations:

	GET /api/v1/health/live
	GET /api/v1/health/ready
	GET /metrics

Every JSON response uses the envelope

	{"status": "success"|"error", "data": ..., "metadata": {...}, "error": {...}}
*/
package api
