// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/wavesaga/internal/logging"
)

// CompactResult summarizes one compaction pass.
type CompactResult struct {
	Expired int64
	Deleted int64
}

// Compact expires settled failures whose TTL has elapsed, deletes terminal
// entries whose TTL has elapsed, and then runs value log GC. Entries without
// a TTL are kept forever.
func (w *BadgerWAL) Compact(ctx context.Context) (CompactResult, error) {
	var res CompactResult
	start := time.Now()

	failed, err := w.ListByStatus(ctx, StatusFailed)
	if err != nil {
		return res, err
	}
	now := w.now()
	for _, e := range failed {
		if !e.Settled() || !e.Expired(now) {
			continue
		}
		if _, err := w.Expire(ctx, e.LogID); err != nil {
			if IsInvalidTransition(err) {
				continue
			}
			return res, err
		}
		res.Expired++
	}

	terminal, err := w.ListByStatus(ctx, StatusCompleted, StatusCompensated, StatusExpired)
	if err != nil {
		return res, err
	}
	for _, e := range terminal {
		if !e.Expired(now) {
			continue
		}
		if err := w.deleteEntry(e); err != nil {
			return res, err
		}
		res.Deleted++
	}

	if err := w.RunGC(); err != nil {
		logging.Error().Err(err).Msg("WAL compaction GC error")
	}

	w.mu.Lock()
	w.lastCompaction = time.Now()
	w.mu.Unlock()

	RecordWALCompaction()
	RecordWALCompactionLatency(time.Since(start).Seconds())
	if res.Deleted > 0 {
		RecordWALEntriesCompacted(res.Deleted)
	}
	return res, nil
}

// deleteEntry removes a terminal entry and every index key pointing at it.
func (w *BadgerWAL) deleteEntry(e *Entry) error {
	unlock := w.locks.Lock(e.LogID)
	defer unlock()

	err := w.db.Update(func(txn *badger.Txn) error {
		current, err := loadEntry(txn, e.LogID)
		if err != nil {
			return err
		}
		if !current.Status.Terminal() {
			return nil
		}

		keys := [][]byte{
			entryKey(current.LogID),
			namespaceKey(current.Namespace, current.CreatedAt, current.LogID),
			correlationKey(current.CorrelationID, current.LogID),
			seriesKey(current.Kind, current.Namespace, current.CorrelationID, current.Sequence),
			statusKey(current.Status, current.LogID),
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return persistErr("delete", err)
}

// Compactor runs Compact periodically.
type Compactor struct {
	wal      *BadgerWAL
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
	last    CompactResult
}

// NewCompactor creates a compaction loop over w.
func NewCompactor(w *BadgerWAL) *Compactor {
	return &Compactor{
		wal:      w,
		interval: w.GetConfig().CompactInterval,
	}
}

// Start begins the background compaction loop.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	logging.Info().Dur("interval", c.interval).Msg("WAL compactor started")
	return nil
}

// Stop gracefully stops the compaction loop.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("WAL compactor stopped")
}

// IsRunning returns whether the compactor is active.
func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Compactor) run() {
	defer c.wg.Done()

	interval := c.interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.compact(c.ctx)
		}
	}
}

func (c *Compactor) compact(ctx context.Context) {
	start := time.Now()
	res, err := c.wal.Compact(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("WAL compaction failed")
	}

	c.mu.Lock()
	c.lastRun = time.Now()
	c.last = res
	c.mu.Unlock()

	if res.Deleted > 0 || res.Expired > 0 {
		logging.Info().
			Int64("deleted", res.Deleted).
			Int64("expired", res.Expired).
			Dur("duration", time.Since(start)).
			Msg("WAL compaction removed entries")
	}
}

// RunNow triggers an immediate compaction run.
func (c *Compactor) RunNow(ctx context.Context) {
	c.compact(ctx)
}

// CompactorStats contains statistics about compaction.
type CompactorStats struct {
	LastRun time.Time
	Last    CompactResult
}

// GetStats returns compaction statistics.
func (c *Compactor) GetStats() CompactorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CompactorStats{LastRun: c.lastRun, Last: c.last}
}
