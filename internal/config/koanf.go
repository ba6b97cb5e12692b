// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/wavesaga/internal/dispatch"
	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/queue"
	"github.com/tomtom215/wavesaga/internal/saga"
	"github.com/tomtom215/wavesaga/internal/scheduler"
	"github.com/tomtom215/wavesaga/internal/supervisor"
	"github.com/tomtom215/wavesaga/internal/telemetry"
	"github.com/tomtom215/wavesaga/internal/wal"
	"github.com/tomtom215/wavesaga/internal/wave"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is not set.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/wavesaga/config.yaml",
}

// ConfigPathEnvVar names an explicit config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxBodyBytes:      4 << 20,
			RateLimitReqs:     300,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging:    logging.DefaultConfig(),
		WAL:        wal.DefaultConfig(),
		Scheduler:  scheduler.DefaultConfig(),
		Dispatch:   dispatch.DefaultConfig(),
		Saga:       saga.DefaultConfig(),
		Wave:       wave.DefaultConfig(),
		Store:      StoreConfig{Path: "/data/wavesaga.db"},
		Queue:      queue.DefaultConfig(),
		Supervisor: supervisor.DefaultTreeConfig(),
		Telemetry:  telemetry.DefaultConfig(),
	}
}

// Load builds the configuration from three layers, later ones winning:
//
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH, then DefaultConfigPaths)
//  3. environment variables listed in envMappings
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	// Not addressable through koanf.
	cfg.Logging.Output = os.Stderr

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as strings.
var sliceConfigPaths = []string{
	"queue.targets",
	"queue.kafka.brokers",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	"http_host":                    "server.host",
	"http_port":                    "server.port",
	"http_read_timeout":            "server.read_timeout",
	"http_write_timeout":           "server.write_timeout",
	"http_idle_timeout":            "server.idle_timeout",
	"http_shutdown_timeout":        "server.shutdown_timeout",
	"http_max_body_bytes":          "server.max_body_bytes",
	"rate_limit_requests":          "server.rate_limit_reqs",
	"rate_limit_window":            "server.rate_limit_window",
	"disable_rate_limit":           "server.rate_limit_disabled",
	"log_level":                    "logging.level",
	"log_format":                   "logging.format",
	"log_caller":                   "logging.caller",
	"log_service":                  "logging.service",
	"wal_path":                     "wal.path",
	"wal_sync_writes":              "wal.sync_writes",
	"wal_compression":              "wal.compression",
	"wal_compact_interval":         "wal.compact_interval",
	"wal_lease_duration":           "wal.lease_duration",
	"wal_retry_count":              "wal.lifecycle.retry_count",
	"wal_base_delay":               "wal.lifecycle.base_delay",
	"wal_backoff":                  "wal.lifecycle.backoff",
	"wal_ttl":                      "wal.lifecycle.ttl",
	"wal_timeout":                  "wal.lifecycle.timeout",
	"scheduler_poll_interval":      "scheduler.poll_interval",
	"scheduler_batch_size":         "scheduler.batch_size",
	"scheduler_concurrency":        "scheduler.max_concurrency",
	"scheduler_dispatch_rate":      "scheduler.dispatch_rate",
	"scheduler_dispatch_burst":     "scheduler.dispatch_burst",
	"dispatch_timeout":             "dispatch.default_timeout",
	"breaker_failures":             "dispatch.breaker.failure_threshold",
	"breaker_timeout":              "dispatch.breaker.timeout",
	"saga_cache_size":              "saga.cache_size",
	"saga_cache_ttl":               "saga.cache_ttl",
	"saga_resume_concurrency":      "saga.resume_concurrency",
	"wave_batch_size":              "wave.default_batch_size",
	"wave_namespace":               "wave.namespace",
	"store_path":                   "store.path",
	"queue_backend":                "queue.backend",
	"queue_targets":                "queue.targets",
	"nats_url":                     "queue.nats.url",
	"nats_auto_provision":          "queue.nats.auto_provision",
	"kafka_brokers":                "queue.kafka.brokers",
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
	"otel_enabled":                 "telemetry.enabled",
	"otel_exporter_otlp_endpoint":  "telemetry.endpoint",
	"otel_service_name":            "telemetry.service_name",
	"otel_sample_ratio":            "telemetry.sample_ratio",
}

// envTransformFunc maps known variables and drops the rest, so unrelated
// environment never leaks into the configuration.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
