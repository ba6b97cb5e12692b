// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package services adapts the server's components to suture.Service.
//
//   - LoopService: Start/Stop workers (retry scheduler, WAL compactor)
//   - HTTPServerService: the API server with graceful shutdown
package services
