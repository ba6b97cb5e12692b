// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestLifecycleDelay(t *testing.T) {
	tests := []struct {
		name string
		l    Lifecycle
		n    int
		want time.Duration
	}{
		{"fixed first", Lifecycle{BaseDelay: 2 * time.Second, Backoff: BackoffFixed}, 1, 2 * time.Second},
		{"fixed fifth", Lifecycle{BaseDelay: 2 * time.Second, Backoff: BackoffFixed}, 5, 2 * time.Second},
		{"linear third", Lifecycle{BaseDelay: 2 * time.Second, Backoff: BackoffLinear}, 3, 6 * time.Second},
		{"exponential first", Lifecycle{BaseDelay: 2 * time.Second, Backoff: BackoffExponential}, 1, 2 * time.Second},
		{"exponential second", Lifecycle{BaseDelay: 2 * time.Second, Backoff: BackoffExponential}, 2, 4 * time.Second},
		{"exponential fourth", Lifecycle{BaseDelay: 2 * time.Second, Backoff: BackoffExponential}, 4, 16 * time.Second},
		{"exponential capped by ttl", Lifecycle{BaseDelay: 2 * time.Second, Backoff: BackoffExponential, TTL: time.Minute}, 6, time.Minute},
		{"linear capped by ttl", Lifecycle{BaseDelay: time.Minute, Backoff: BackoffLinear, TTL: 90 * time.Second}, 2, 90 * time.Second},
		{"zero attempt treated as first", Lifecycle{BaseDelay: time.Second, Backoff: BackoffExponential}, 0, time.Second},
		{"exponential overflow saturates", Lifecycle{BaseDelay: time.Hour, Backoff: BackoffExponential}, 200, maxDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.Delay(tt.n); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestLifecycleExponentialGrowth(t *testing.T) {
	d := 3 * time.Second
	l := Lifecycle{BaseDelay: d, Backoff: BackoffExponential, TTL: 24 * time.Hour}

	want := d
	for n := 1; n <= 10; n++ {
		if got := l.Delay(n); got != want {
			t.Fatalf("retry %d: delay = %v, want %v", n, got, want)
		}
		want *= 2
	}
}

func TestLifecycleWithDefaults(t *testing.T) {
	def := Lifecycle{RetryCount: 5, BaseDelay: time.Minute, Backoff: BackoffExponential, TTL: time.Hour, Timeout: 10 * time.Second}

	if got := (Lifecycle{}).WithDefaults(def); got != def {
		t.Errorf("zero lifecycle = %+v, want defaults %+v", got, def)
	}

	// An explicit retry count of zero is kept once any other field is set.
	got := Lifecycle{Backoff: BackoffFixed}.WithDefaults(def)
	want := Lifecycle{RetryCount: 0, BaseDelay: time.Minute, Backoff: BackoffFixed, TTL: time.Hour, Timeout: 10 * time.Second}
	if got != want {
		t.Errorf("partial lifecycle = %+v, want %+v", got, want)
	}
}

func TestLifecycleMergeKeepsZeroRetries(t *testing.T) {
	def := Lifecycle{RetryCount: 5, BaseDelay: time.Minute, Backoff: BackoffExponential, TTL: time.Hour, Timeout: 10 * time.Second}

	var explicit Lifecycle
	if err := json.Unmarshal([]byte(`{"retry_count":0}`), &explicit); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got := explicit.Merge(def)
	want := Lifecycle{RetryCount: 0, BaseDelay: time.Minute, Backoff: BackoffExponential, TTL: time.Hour, Timeout: 10 * time.Second}
	if got != want {
		t.Errorf("merged = %+v, want %+v", got, want)
	}
	if got.WithDefaults(def) != want {
		t.Error("merged policy was replaced by defaults")
	}
}

func TestLifecycleJSONSeconds(t *testing.T) {
	l := Lifecycle{RetryCount: 3, BaseDelay: 1500 * time.Millisecond, Backoff: BackoffLinear, TTL: 2 * time.Hour}

	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"retry_count":3`, `"base_delay":1.5`, `"backoff":"linear"`, `"ttl":7200`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded lifecycle %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "timeout") {
		t.Errorf("zero timeout should be omitted: %s", s)
	}

	var back Lifecycle
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != l {
		t.Errorf("decoded = %+v, want %+v", back, l)
	}
}
