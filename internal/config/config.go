// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package config

import (
	"net"
	"strconv"
	"time"

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

// Config is the complete server configuration. Each section is owned by the
// package that consumes it.
type Config struct {
	Server     ServerConfig          `koanf:"server"`
	Logging    logging.Config        `koanf:"logging"`
	WAL        wal.Config            `koanf:"wal"`
	Scheduler  scheduler.Config      `koanf:"scheduler"`
	Dispatch   dispatch.Config       `koanf:"dispatch"`
	Saga       saga.Config           `koanf:"saga"`
	Wave       wave.Config           `koanf:"wave"`
	Store      StoreConfig           `koanf:"store"`
	Queue      queue.Config          `koanf:"queue"`
	Supervisor supervisor.TreeConfig `koanf:"supervisor"`
	Telemetry  telemetry.Config      `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StoreConfig selects where saga instances and waves are kept.
type StoreConfig struct {
	// Path is the SQLite database file. Empty keeps records in memory,
	// which loses them on restart.
	Path string `koanf:"path"`
}

// Persistent reports whether a database path is configured.
func (s StoreConfig) Persistent() bool {
	return s.Path != ""
}
