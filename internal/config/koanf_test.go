// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/wavesaga/internal/queue"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Defaults()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, def.Server.Port)
	}
	if cfg.WAL.Lifecycle != def.WAL.Lifecycle {
		t.Errorf("WAL.Lifecycle = %+v, want %+v", cfg.WAL.Lifecycle, def.WAL.Lifecycle)
	}
	if cfg.Queue.Enabled() {
		t.Error("queue enabled by default")
	}
	if cfg.Logging.Output == nil {
		t.Error("Logging.Output not set")
	}
}

func TestLoadFile(t *testing.T) {
	writeConfigFile(t, `
server:
  port: 9090
wal:
  path: /tmp/wal
  lifecycle:
    retry_count: 3
    base_delay: 10s
    backoff: linear
scheduler:
  poll_interval: 250ms
  max_concurrency: 4
store:
  path: ""
queue:
  backend: kafka
  targets: [legacy.queue, legacy.queue.rollback]
  kafka:
    brokers: [k1:9092, k2:9092]
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.WAL.Path != "/tmp/wal" {
		t.Errorf("Port = %d WAL.Path = %s", cfg.Server.Port, cfg.WAL.Path)
	}
	if cfg.WAL.Lifecycle.RetryCount != 3 || cfg.WAL.Lifecycle.BaseDelay != 10*time.Second || cfg.WAL.Lifecycle.Backoff != "linear" {
		t.Errorf("Lifecycle = %+v", cfg.WAL.Lifecycle)
	}
	// Keys absent from the file keep their defaults.
	if cfg.WAL.Lifecycle.Timeout != Defaults().WAL.Lifecycle.Timeout {
		t.Errorf("Lifecycle.Timeout = %s", cfg.WAL.Lifecycle.Timeout)
	}
	if cfg.Scheduler.PollInterval != 250*time.Millisecond || cfg.Scheduler.MaxConcurrency != 4 {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Store.Persistent() {
		t.Error("empty store path should be in-memory")
	}
	if cfg.Queue.Backend != queue.BackendKafka {
		t.Errorf("Queue.Backend = %s", cfg.Queue.Backend)
	}
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.Queue.Kafka.Brokers, want) {
		t.Errorf("Kafka.Brokers = %v, want %v", cfg.Queue.Kafka.Brokers, want)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	writeConfigFile(t, "server:\n  port: 9090\n")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("WAL_RETRY_COUNT", "7")
	t.Setenv("WAL_BASE_DELAY", "2s")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("QUEUE_TARGETS", "a.queue, a.queue.rollback ,")
	t.Setenv("BREAKER_FAILURES", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.WAL.Lifecycle.RetryCount != 7 || cfg.WAL.Lifecycle.BaseDelay != 2*time.Second {
		t.Errorf("Lifecycle = %+v", cfg.WAL.Lifecycle)
	}
	if want := []string{"a.queue", "a.queue.rollback"}; !reflect.DeepEqual(cfg.Queue.Targets, want) {
		t.Errorf("Queue.Targets = %v, want %v", cfg.Queue.Targets, want)
	}
	if cfg.Dispatch.Breaker.FailureThreshold != 9 {
		t.Errorf("Breaker.FailureThreshold = %d", cfg.Dispatch.Breaker.FailureThreshold)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	writeConfigFile(t, "wal:\n  lifecycle:\n    backoff: quadratic\n")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an unknown backoff")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"HTTP_PORT":                   "server.port",
		"wal_path":                    "wal.path",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "telemetry.endpoint",
		"PATH":                        "",
		"HOME":                        "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
