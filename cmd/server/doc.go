// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

/*
Package main is the entry point for the Wavesaga server.

Wavesaga runs long multi-step business processes as sagas over a durable
write-ahead log, retries failed steps in the background, and migrates large
item sets in quality-gated waves.

# Process Layout

	RootSupervisor ("wavesaga")
	├── DataSupervisor ("data-layer")
	│   ├── retry-scheduler
	│   └── wal-compactor
	└── APISupervisor ("api-layer")
	    └── http-server

Start-up order:

 1. Configuration (Koanf v2: defaults, config file, environment)
 2. Logging (zerolog) and tracing (OpenTelemetry, optional)
 3. Write-ahead log (BadgerDB)
 4. Operation registry and queue handlers (Watermill, Kafka)
 5. Saga and wave repositories (SQLite, or memory when STORE_PATH is empty)
 6. Recovery of WAL entries left in flight
 7. Supervisor tree with the scheduler, compactor and HTTP server
 8. Interrupted sagas, then interrupted waves, resumed in the background

# Configuration

	PORT=8080
	LOG_LEVEL=info
	WAL_PATH=/data/wal
	STORE_PATH=/data/wavesaga.db
	QUEUE_BACKEND=nats
	QUEUE_TARGETS=legacy.migrate,legacy.migrate.rollback
	NATS_URL=nats://localhost:4222
	OTEL_ENABLED=true
	OTEL_EXPORTER_OTLP_ENDPOINT=http://collector:4318

See package config for the full list.

# Signals

SIGINT and SIGTERM stop the supervisor tree. The HTTP server drains
in-flight requests, the scheduler finishes its current batch, and the
WAL and store are closed last.
*/
package main
