// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"time"
)

// Config holds WAL storage configuration. It is loaded by internal/config
// under the "wal" key (environment variables WAL_*).
type Config struct {
	// Path is the directory where BadgerDB stores its files.
	// Should be on a durable filesystem (not tmpfs).
	Path string `koanf:"path"`

	// SyncWrites forces fsync after every write. Write-ahead semantics
	// require it in production; tests turn it off for speed.
	SyncWrites bool `koanf:"sync_writes"`

	// MemTableSize is the size of each memtable in bytes.
	MemTableSize int64 `koanf:"mem_table_size"`

	// ValueLogFileSize is the size of each value log file in bytes.
	ValueLogFileSize int64 `koanf:"value_log_file_size"`

	// NumCompactors is the number of BadgerDB compaction workers.
	NumCompactors int `koanf:"num_compactors"`

	// NumMemtables is the number of memtables to keep in memory.
	NumMemtables int `koanf:"num_memtables"`

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64 `koanf:"block_cache_size"`

	// IndexCacheSize is the size of the index cache in bytes. 0 uses the block cache.
	IndexCacheSize int64 `koanf:"index_cache_size"`

	// Compression enables Snappy compression for entries.
	Compression bool `koanf:"compression"`

	// GCRatio is the ratio for value log garbage collection.
	GCRatio float64 `koanf:"gc_ratio"`

	// CloseTimeout is the maximum time to wait for BadgerDB to close.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// CompactInterval is the time between compaction runs.
	CompactInterval time.Duration `koanf:"compact_interval"`

	// LeaseDuration bounds how long a scheduler may hold a retry before
	// another scheduler can claim it.
	LeaseDuration time.Duration `koanf:"lease_duration"`

	// AwaitPollInterval is the fallback re-check period for Await, covering
	// updates made by another process sharing the log.
	AwaitPollInterval time.Duration `koanf:"await_poll_interval"`

	// Lifecycle is applied to writes that do not carry their own policy.
	Lifecycle LifecycleConfig `koanf:"lifecycle"`
}

// LifecycleConfig is the configurable default retry policy.
type LifecycleConfig struct {
	RetryCount int           `koanf:"retry_count"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	Backoff    string        `koanf:"backoff"`
	TTL        time.Duration `koanf:"ttl"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Policy converts the configuration to a Lifecycle.
func (c LifecycleConfig) Policy() Lifecycle {
	return Lifecycle{
		RetryCount: c.RetryCount,
		BaseDelay:  c.BaseDelay,
		Backoff:    Backoff(c.Backoff),
		TTL:        c.TTL,
		Timeout:    c.Timeout,
	}
}

// DefaultConfig returns production defaults. The lifecycle mirrors the
// migration queues this engine drives: five exponential retries from one minute.
func DefaultConfig() Config {
	return Config{
		Path:              "/data/wal",
		SyncWrites:        true,
		MemTableSize:      16 * 1024 * 1024,
		ValueLogFileSize:  64 * 1024 * 1024,
		NumCompactors:     2,
		NumMemtables:      5,
		BlockCacheSize:    64 * 1024 * 1024,
		IndexCacheSize:    0,
		Compression:       true,
		GCRatio:           0.5,
		CloseTimeout:      30 * time.Second,
		CompactInterval:   1 * time.Hour,
		LeaseDuration:     2 * time.Minute,
		AwaitPollInterval: 2 * time.Second,
		Lifecycle: LifecycleConfig{
			RetryCount: 5,
			BaseDelay:  60 * time.Second,
			Backoff:    string(BackoffExponential),
			TTL:        168 * time.Hour,
			Timeout:    30 * time.Second,
		},
	}
}

// Validate checks that the configuration is usable by Open.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ConfigError{Field: "Path", Message: "WAL path is required"}
	}
	if c.MemTableSize < 1024*1024 {
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1024*1024 {
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be between 0 and 1"}
	}
	if c.CompactInterval < time.Minute {
		return &ConfigError{Field: "CompactInterval", Message: "must be at least 1 minute"}
	}
	if c.LeaseDuration < time.Second {
		return &ConfigError{Field: "LeaseDuration", Message: "must be at least 1 second"}
	}
	if c.AwaitPollInterval <= 0 {
		return &ConfigError{Field: "AwaitPollInterval", Message: "must be positive"}
	}
	return c.Lifecycle.validate()
}

func (c LifecycleConfig) validate() error {
	if c.RetryCount < 0 {
		return &ConfigError{Field: "Lifecycle.RetryCount", Message: "must not be negative"}
	}
	if c.BaseDelay <= 0 {
		return &ConfigError{Field: "Lifecycle.BaseDelay", Message: "must be positive"}
	}
	switch Backoff(c.Backoff) {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return &ConfigError{Field: "Lifecycle.Backoff", Message: "must be fixed, linear or exponential"}
	}
	if c.TTL < 0 {
		return &ConfigError{Field: "Lifecycle.TTL", Message: "must not be negative"}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "Lifecycle.Timeout", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "WAL config error: " + e.Field + ": " + e.Message
}
