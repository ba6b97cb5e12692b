// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package queue

import (
	"fmt"

	"github.com/tomtom215/wavesaga/internal/dispatch"
	"github.com/tomtom215/wavesaga/internal/logging"
)

// Open creates the configured sink and registers a handler for every
// configured target. It returns a nil sink when the queue is disabled.
func Open(cfg Config, reg *dispatch.Registry) (Sink, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var (
		sink Sink
		err  error
	)
	switch cfg.Backend {
	case BackendMemory:
		sink, _ = NewMemorySink()
	case BackendNATS:
		sink, err = NewNATSSink(cfg.NATS)
	case BackendKafka:
		sink = NewKafkaSink(cfg.Kafka)
	default:
		return nil, fmt.Errorf("queue: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := NewHandler(sink, cfg.Backend).Register(reg, cfg.Targets...); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("queue: register targets: %w", err)
	}
	logging.Info().
		Str("backend", cfg.Backend).
		Strs("targets", cfg.Targets).
		Msg("Queue targets registered")
	return sink, nil
}
