// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/wavesaga/internal/logging"
)

// ClaimRetry takes a durable lease on a retrying entry so that no other
// scheduler dispatches it. The lease is stored with the entry, so a crashed
// holder's lease simply expires after LeaseDuration.
//
// Returns:
//   - (true, nil): lease acquired or extended by the same holder
//   - (false, nil): another holder has an active lease
//   - (false, ErrNotRetrying): the entry moved on since it was listed
func (w *BadgerWAL) ClaimRetry(ctx context.Context, logID, holder string) (bool, error) {
	var claimed bool
	_, err := w.mutate(ctx, "claim_retry", logID, func(e *Entry, now time.Time) error {
		if e.Status != StatusRetrying {
			return ErrNotRetrying
		}
		if e.LeaseExpiry != nil && now.Before(*e.LeaseExpiry) && e.LeaseHolder != holder {
			logging.Trace().
				Str("log_id", logID).
				Str("lease_holder", e.LeaseHolder).
				Time("lease_expiry", *e.LeaseExpiry).
				Msg("WAL: entry has active lease, skipping")
			return errNoChange
		}

		expiry := now.Add(w.config.LeaseDuration)
		e.LeaseHolder = holder
		e.LeaseExpiry = &expiry
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// ReleaseLease clears a lease held by holder. The lease would otherwise
// expire on its own after LeaseDuration.
func (w *BadgerWAL) ReleaseLease(ctx context.Context, logID, holder string) error {
	_, err := w.mutate(ctx, "release_lease", logID, func(e *Entry, _ time.Time) error {
		if e.LeaseHolder != holder || e.LeaseExpiry == nil {
			return errNoChange
		}
		e.LeaseHolder = ""
		e.LeaseExpiry = nil
		return nil
	})
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	return err
}
