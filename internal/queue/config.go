// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package queue

import (
	"errors"
	"fmt"
	"time"
)

// Backend names.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendKafka  = "kafka"
)

// Config selects and configures the broker queue targets publish to.
// Loaded under the "queue" key.
type Config struct {
	Backend string `koanf:"backend"`

	// Targets are registered as queue-publishing handlers; each publishes
	// to the topic of the same name.
	Targets []string `koanf:"targets"`

	NATS  NATSConfig  `koanf:"nats"`
	Kafka KafkaConfig `koanf:"kafka"`
}

// NATSConfig configures the JetStream publisher.
type NATSConfig struct {
	URL             string        `koanf:"url"`
	MaxReconnects   int           `koanf:"max_reconnects"`
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
	ReconnectBuffer int           `koanf:"reconnect_buffer"`

	// AutoProvision creates missing streams. Off when streams are managed
	// outside the engine.
	AutoProvision bool `koanf:"auto_provision"`
}

// KafkaConfig configures the Kafka writer.
type KafkaConfig struct {
	Brokers      []string      `koanf:"brokers"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DefaultConfig returns a disabled queue.
func DefaultConfig() Config {
	return Config{
		Backend: BackendNone,
		NATS: NATSConfig{
			URL:             "nats://127.0.0.1:4222",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			ReconnectBuffer: 8 * 1024 * 1024,
		},
		Kafka: KafkaConfig{
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Backend != "" && c.Backend != BackendNone
}

// Validate checks the queue settings.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendNone, BackendMemory:
	case BackendNATS:
		if c.NATS.URL == "" {
			return errors.New("queue: nats.url is required for the nats backend")
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("queue: kafka.brokers is required for the kafka backend")
		}
	default:
		return fmt.Errorf("queue: unknown backend %q (want none, memory, nats or kafka)", c.Backend)
	}
	if c.Enabled() && len(c.Targets) == 0 {
		return errors.New("queue: at least one target is required when a backend is set")
	}
	return nil
}
