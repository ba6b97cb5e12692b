// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/wal"
)

func noop() OperationHandler {
	return HandlerFunc(func(context.Context, *wal.Entry) (json.RawMessage, error) {
		return nil, nil
	})
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("orders.reserve", noop()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("orders.reserve", noop()); !errors.Is(err, ErrDuplicateTarget) {
		t.Errorf("duplicate: got %v", err)
	}
	if err := r.Register("  ", noop()); !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("empty: got %v", err)
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("nil handler accepted")
	}

	if _, ok := r.Lookup("orders.reserve"); !ok {
		t.Error("Lookup missed registered target")
	}
	if _, ok := r.Lookup("orders.release"); ok {
		t.Error("Lookup found unregistered target")
	}
}

func TestRegistryRequire(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("a", noop())
	r.MustRegister("b", noop())

	if err := r.Require("a", "b"); err != nil {
		t.Errorf("Require(a, b) = %v", err)
	}

	err := r.Require("a", "c", "d")
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("got %v, want ErrUnknownTarget", err)
	}
	if !strings.Contains(err.Error(), "c, d") {
		t.Errorf("error %q does not list missing targets", err)
	}
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("b", noop())
	r.MustRegister("a", noop())
	r.Freeze()

	if err := r.Register("c", noop()); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Register after Freeze: got %v", err)
	}
	if got := r.Targets(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Targets() = %v", got)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}

	base := errors.New("bad record")
	err := Permanent(base)
	if !IsPermanent(err) {
		t.Error("IsPermanent(Permanent(err)) = false")
	}
	if !errors.Is(err, base) {
		t.Error("PermanentError does not unwrap")
	}
	if IsPermanent(base) {
		t.Error("plain error reported permanent")
	}

	wrapped := errors.Join(errors.New("context"), err)
	if !IsPermanent(wrapped) {
		t.Error("wrapped permanent error not detected")
	}
}
