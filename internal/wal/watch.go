// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"context"
	"sync"
	"time"
)

// watchers wakes goroutines waiting on a log ID. Signals are coalesced: a
// waiter re-reads the entry on wake-up, so one pending signal is enough.
type watchers struct {
	mu     sync.Mutex
	byID   map[string]map[chan struct{}]struct{}
	closed bool
}

func newWatchers() *watchers {
	return &watchers{byID: make(map[string]map[chan struct{}]struct{})}
}

func (ws *watchers) subscribe(logID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		close(ch)
		return ch, func() {}
	}
	set, ok := ws.byID[logID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		ws.byID[logID] = set
	}
	set[ch] = struct{}{}

	return ch, func() {
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if set, ok := ws.byID[logID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(ws.byID, logID)
			}
		}
	}
}

func (ws *watchers) notify(logID string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for ch := range ws.byID[logID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (ws *watchers) closeAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.closed = true
	for _, set := range ws.byID {
		for ch := range set {
			close(ch)
		}
	}
	ws.byID = make(map[string]map[chan struct{}]struct{})
}

// Await blocks until the entry is settled (see Entry.Settled) and returns it.
// Changes made by this BadgerWAL wake the waiter at once; AwaitPollInterval
// bounds how long a change made elsewhere goes unnoticed.
func (w *BadgerWAL) Await(ctx context.Context, logID string) (*Entry, error) {
	ch, cancel := w.watchers.subscribe(logID)
	defer cancel()

	poll := w.config.AwaitPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		e, err := w.Get(ctx, logID)
		if err != nil {
			return nil, err
		}
		if e.Settled() {
			return e, nil
		}

		select {
		case <-ctx.Done():
			return e, ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil, ErrWALClosed
			}
		case <-ticker.C:
		}
	}
}
