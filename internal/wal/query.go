// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/wavesaga/internal/logging"
)

// Replay returns the entries of a namespace created in [from, to], ordered by
// (sequence, created_at, log_id). A zero from or to leaves that side open.
//
// DETERMINISM: the scan runs in one View transaction, so the result is a
// consistent snapshot even while other sagas keep writing.
func (w *BadgerWAL) Replay(ctx context.Context, namespace string, from, to time.Time, f Filter) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	prefix := namespacePrefix(namespace)
	start := prefix
	if !from.IsZero() {
		start = append(append([]byte(nil), prefix...), stamp(from)...)
	}
	var upper string
	if !to.IsZero() {
		upper = stamp(to)
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			if upper != "" && namespaceStamp(key, len(prefix)) > upper {
				break
			}

			e, err := loadEntry(txn, lastSegment(key))
			if err != nil {
				logging.Warn().Err(err).Str("key", string(key)).Msg("WAL replay skipped unreadable entry")
				continue
			}
			if f.match(e) {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("replay", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.LogID < b.LogID
	})
	return entries, nil
}

// ByCorrelation returns all entries of a correlation group in the order
// they were written.
func (w *BadgerWAL) ByCorrelation(ctx context.Context, correlationID string) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	prefix := correlationPrefix(correlationID)
	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(ctx, txn, prefix, nil, 0)
		if err != nil {
			return err
		}
		entries, err = loadAll(txn, ids)
		return err
	})
	if err != nil {
		return nil, persistErr("by_correlation", err)
	}

	sortByCreation(entries)
	return entries, nil
}

// DueRetries returns up to limit retrying entries whose next attempt time is
// at or before now, earliest first. limit <= 0 means no limit.
func (w *BadgerWAL) DueRetries(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(ctx, txn, []byte(prefixDue), dueUntil(now), limit)
		if err != nil {
			return err
		}
		loaded, err := loadAll(txn, ids)
		if err != nil {
			return err
		}
		for _, e := range loaded {
			if e.Status == StatusRetrying {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("due_retries", err)
	}
	return entries, nil
}

// ListByStatus returns every entry currently in one of the given statuses.
func (w *BadgerWAL) ListByStatus(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		for _, s := range statuses {
			ids, err := scanIDs(ctx, txn, statusPrefix(s), nil, 0)
			if err != nil {
				return err
			}
			loaded, err := loadAll(txn, ids)
			if err != nil {
				return err
			}
			entries = append(entries, loaded...)
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("list_by_status", err)
	}

	sortByCreation(entries)
	return entries, nil
}

// InFlight returns entries a crash may have stranded mid-attempt: pending,
// running and compensating.
func (w *BadgerWAL) InFlight(ctx context.Context) ([]*Entry, error) {
	return w.ListByStatus(ctx, StatusPending, StatusRunning, StatusCompensating)
}

// Stats returns current WAL statistics and refreshes the entry gauges.
func (w *BadgerWAL) Stats() Stats {
	w.mu.RLock()
	closed := w.closed
	lastCompaction := w.lastCompaction
	w.mu.RUnlock()

	if closed {
		return Stats{}
	}

	byStatus := make(map[Status]int64, len(AllStatuses))
	var total int64
	if err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, s := range AllStatuses {
			prefix := statusPrefix(s)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				byStatus[s]++
				total++
			}
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("WAL Stats failed to count entries")
	}

	lsm, vlog := w.db.Size()
	dbSize := lsm + vlog

	UpdateWALEntries(byStatus)
	UpdateWALDBSize(dbSize)

	return Stats{
		ByStatus:       byStatus,
		TotalEntries:   total,
		TotalWrites:    w.totalWrites.Load(),
		TotalUpdates:   w.totalUpdates.Load(),
		TotalRetries:   w.totalRetries.Load(),
		DedupedWrites:  w.dedupedWrites.Load(),
		LastCompaction: lastCompaction,
		DBSizeBytes:    dbSize,
	}
}

// scanIDs collects the log IDs of index keys under prefix, stopping before
// until (if set) or after limit keys (if > 0).
func scanIDs(ctx context.Context, txn *badger.Txn, prefix, until []byte, limit int) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := it.Item().Key()
		if until != nil && bytes.Compare(key, until) >= 0 {
			break
		}
		ids = append(ids, lastSegment(key))
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func loadAll(txn *badger.Txn, ids []string) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		e, err := loadEntry(txn, id)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func sortByCreation(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.LogID < b.LogID
	})
}
