// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/wal"
)

// OperationHandler performs the operation a WAL entry describes. It must be
// safe to call more than once for the same log ID: after a crash or timeout
// an attempt may be repeated.
type OperationHandler interface {
	Handle(ctx context.Context, e *wal.Entry) (json.RawMessage, error)
}

// HandlerFunc adapts a function to OperationHandler.
type HandlerFunc func(ctx context.Context, e *wal.Entry) (json.RawMessage, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e *wal.Entry) (json.RawMessage, error) {
	return f(ctx, e)
}

var (
	// ErrUnknownTarget is returned for targets with no registered handler.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrDuplicateTarget is returned when a target is registered twice.
	ErrDuplicateTarget = errors.New("target already registered")

	// ErrEmptyTarget is returned when registering an empty target.
	ErrEmptyTarget = errors.New("target cannot be empty")

	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// Registry maps target names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]OperationHandler
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]OperationHandler)}
}

// Register binds a handler to target.
func (r *Registry) Register(target string, h OperationHandler) error {
	if strings.TrimSpace(target) == "" {
		return ErrEmptyTarget
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, ok := r.handlers[target]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, target)
	}
	r.handlers[target] = h
	return nil
}

// MustRegister is Register that panics, for startup wiring.
func (r *Registry) MustRegister(target string, h OperationHandler) {
	if err := r.Register(target, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for target.
func (r *Registry) Lookup(target string) (OperationHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[target]
	return h, ok
}

// Require returns ErrUnknownTarget naming every target that has no handler.
func (r *Registry) Require(targets ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, t := range targets {
		if _, ok := r.handlers[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, strings.Join(missing, ", "))
	}
	return nil
}

// Targets lists registered targets in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}
