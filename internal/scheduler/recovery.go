// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/wavesaga/internal/logging"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// RecoveryResult contains the results of a recovery operation.
type RecoveryResult struct {
	// Found is the number of unsettled entries found.
	Found int

	// Rescheduled is the number of entries moved to retrying.
	Rescheduled int

	// Expired is the number of entries past their TTL.
	Expired int

	// Skipped is the number of entries that moved on during recovery.
	Skipped int

	// Errors contains any errors encountered during recovery.
	Errors []error

	// Duration is how long the recovery took.
	Duration time.Duration
}

// RecoverInFlight hands every entry a previous process left unsettled back to
// the retry path. Entries that were pending, running or compensating are
// failed as interrupted first; entries that failed without a retry being
// scheduled are scheduled now.
//
// Call it once at startup, before any saga is resumed. While sagas are
// running their pending entries are not stranded.
func (s *Scheduler) RecoverInFlight(ctx context.Context) (*RecoveryResult, error) {
	start := time.Now()
	result := &RecoveryResult{}

	entries, err := s.store.ListByStatus(ctx,
		wal.StatusPending, wal.StatusRunning, wal.StatusCompensating, wal.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list in-flight entries: %w", err)
	}

	for _, e := range entries {
		if e.Settled() {
			continue
		}
		result.Found++

		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			result.Duration = time.Since(start)
			return result, err
		}

		s.recoverEntry(ctx, e, result)
	}

	result.Duration = time.Since(start)
	RecordRecovered("rescheduled", result.Rescheduled)
	RecordRecovered("expired", result.Expired)
	RecordRecovered("skipped", result.Skipped)

	if result.Found == 0 {
		logging.Info().Msg("Recovery: no in-flight entries found")
		return result, nil
	}
	logging.Info().
		Int("found", result.Found).
		Int("rescheduled", result.Rescheduled).
		Int("expired", result.Expired).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Recovery complete")
	return result, nil
}

func (s *Scheduler) recoverEntry(ctx context.Context, e *wal.Entry, result *RecoveryResult) {
	if e.Expired(s.now()) {
		if _, err := s.store.UpdateStatus(ctx, e.LogID, wal.StatusExpired, &wal.Outcome{Error: "ttl elapsed"}); err != nil {
			s.recoveryError(e, err, result)
			return
		}
		result.Expired++
		return
	}

	if e.Status != wal.StatusFailed {
		_, err := s.store.UpdateStatus(ctx, e.LogID, wal.StatusFailed, &wal.Outcome{Error: "interrupted"})
		if err != nil {
			s.recoveryError(e, err, result)
			return
		}
	}

	if _, err := s.store.ScheduleRetry(ctx, e.LogID); err != nil {
		s.recoveryError(e, err, result)
		return
	}
	result.Rescheduled++
	logging.Debug().
		Str("log_id", e.LogID).
		Str("from", string(e.Status)).
		Int("attempts", e.AttemptCount).
		Msg("Recovery: entry rescheduled")
}

func (s *Scheduler) recoveryError(e *wal.Entry, err error, result *RecoveryResult) {
	if wal.IsInvalidTransition(err) || errors.Is(err, wal.ErrSettled) || errors.Is(err, wal.ErrEntryNotFound) {
		result.Skipped++
		return
	}
	logging.Error().Err(err).Str("log_id", e.LogID).Msg("Recovery: failed to reschedule entry")
	result.Errors = append(result.Errors, fmt.Errorf("recover %s: %w", e.LogID, err))
}
