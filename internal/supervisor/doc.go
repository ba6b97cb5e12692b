// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package supervisor runs the long-lived background services under a suture
// supervisor tree so a crashed scheduler or server is restarted with backoff
// instead of taking the process down. Supervisor events are logged through
// sutureslog into the zerolog-backed slog logger.
//
// Service adapters live in the services subpackage.
package supervisor
