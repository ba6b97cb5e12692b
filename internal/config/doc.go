// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

/*
Package config loads the server configuration with koanf.

# Sources

Configuration is layered, later sources overriding earlier ones:

  - Built-in defaults (Defaults)
  - A YAML file named by CONFIG_PATH, or the first of DefaultConfigPaths
  - Environment variables

Only the environment variables listed in the mapping table are read;
anything else in the environment is ignored. List-valued settings
(QUEUE_TARGETS, KAFKA_BROKERS) take comma-separated values.

# Example file

	server:
	  port: 8080
	wal:
	  path: /data/wal
	  lifecycle:
	    retry_count: 5
	    base_delay: 1m
	    backoff: exponential
	    ttl: 168h
	    timeout: 30s
	scheduler:
	  poll_interval: 1s
	  max_concurrency: 16
	store:
	  path: /data/wavesaga.db
	queue:
	  backend: nats
	  targets: [legacy.queue, legacy.queue.rollback]
	  nats:
	    url: nats://nats:4222

# Common environment variables

	HTTP_PORT              server.port
	LOG_LEVEL              logging.level
	WAL_PATH               wal.path
	WAL_RETRY_COUNT        wal.lifecycle.retry_count
	SCHEDULER_CONCURRENCY  scheduler.max_concurrency
	STORE_PATH             store.path (empty for in-memory)
	QUEUE_BACKEND          queue.backend (none, memory, nats, kafka)
	NATS_URL               queue.nats.url
	KAFKA_BROKERS          queue.kafka.brokers
	OTEL_EXPORTER_OTLP_ENDPOINT  telemetry.endpoint
*/
package config
