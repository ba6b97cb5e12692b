// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wave

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository persists waves.
type Repository interface {
	CreateWave(ctx context.Context, w *Wave) error
	SaveWave(ctx context.Context, w *Wave) error

	// GetWave returns ErrWaveNotFound for unknown ids.
	GetWave(ctx context.Context, id string) (*Wave, error)

	// ListWaves returns waves in one of the given statuses, or all waves
	// when none are given, ordered by wave number then creation time.
	ListWaves(ctx context.Context, statuses ...Status) ([]*Wave, error)
}

// MemoryRepository keeps waves in memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	waves map[string]*Wave
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{waves: make(map[string]*Wave)}
}

func (r *MemoryRepository) CreateWave(_ context.Context, w *Wave) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waves[w.ID]; ok {
		return fmt.Errorf("wave %s already exists", w.ID)
	}
	r.waves[w.ID] = w.Clone()
	return nil
}

func (r *MemoryRepository) SaveWave(_ context.Context, w *Wave) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waves[w.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrWaveNotFound, w.ID)
	}
	r.waves[w.ID] = w.Clone()
	return nil
}

func (r *MemoryRepository) GetWave(_ context.Context, id string) (*Wave, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.waves[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWaveNotFound, id)
	}
	return w.Clone(), nil
}

func (r *MemoryRepository) ListWaves(_ context.Context, statuses ...Status) ([]*Wave, error) {
	r.mu.RLock()
	out := make([]*Wave, 0, len(r.waves))
	for _, w := range r.waves {
		if matchStatus(w.Status, statuses) {
			out = append(out, w.Clone())
		}
	}
	r.mu.RUnlock()
	SortWaves(out)
	return out, nil
}

func matchStatus(s Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

// SortWaves orders waves by wave number, then creation time, then id.
func SortWaves(waves []*Wave) {
	sort.Slice(waves, func(i, j int) bool {
		a, b := waves[i], waves[j]
		if a.WaveNumber != b.WaveNumber {
			return a.WaveNumber < b.WaveNumber
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
