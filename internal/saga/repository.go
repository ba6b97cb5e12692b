// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository persists saga instances. The orchestrator saves the whole
// instance after every milestone transition, so Save is an upsert.
type Repository interface {
	Create(ctx context.Context, inst *Instance) error
	Save(ctx context.Context, inst *Instance) error

	// Get returns ErrSagaNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Instance, error)

	List(ctx context.Context, f ListFilter) ([]*Instance, error)
}

// ListFilter narrows List results. Zero fields match everything.
type ListFilter struct {
	Type          string
	CorrelationID string
	States        []State
	Limit         int
}

// Match reports whether inst passes the filter.
func (f ListFilter) Match(inst *Instance) bool {
	if f.Type != "" && inst.Type != f.Type {
		return false
	}
	if f.CorrelationID != "" && inst.CorrelationID != f.CorrelationID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if inst.State == s {
			return true
		}
	}
	return false
}

// MemoryRepository keeps instances in memory. It is used in tests and when
// no store path is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Instance
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*Instance)}
}

func (r *MemoryRepository) Create(_ context.Context, inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[inst.ID]; ok {
		return fmt.Errorf("saga %s already exists", inst.ID)
	}
	r.items[inst.ID] = inst.Clone()
	return nil
}

func (r *MemoryRepository) Save(_ context.Context, inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[inst.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrSagaNotFound, inst.ID)
	}
	r.items[inst.ID] = inst.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, id)
	}
	return inst.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]*Instance, error) {
	r.mu.RLock()
	out := make([]*Instance, 0, len(r.items))
	for _, inst := range r.items {
		if f.Match(inst) {
			out = append(out, inst.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
