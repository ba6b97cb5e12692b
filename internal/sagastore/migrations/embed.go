// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package migrations embeds the saga store schema.
package migrations

import "embed"

// FS contains the SQL migrations, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
