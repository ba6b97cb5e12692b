// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"math"
	"time"

	"github.com/goccy/go-json"
)

// Backoff selects how retry delays grow.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

const maxDelay = time.Duration(math.MaxInt64)

// Lifecycle is the per-entry retry and expiry policy.
// On the wire BaseDelay, TTL and Timeout are expressed in seconds.
type Lifecycle struct {
	RetryCount int           `validate:"gte=0,lte=1000"`
	BaseDelay  time.Duration `validate:"gte=0"`
	Backoff    Backoff       `validate:"backoff"`
	TTL        time.Duration `validate:"gte=0"`

	// Timeout bounds each handler invocation. Zero uses the dispatcher default.
	Timeout time.Duration `validate:"gte=0"`
}

// IsZero reports whether no policy field was set.
func (l Lifecycle) IsZero() bool {
	return l == Lifecycle{}
}

// WithDefaults returns def for a zero policy and l.Merge(def) otherwise.
func (l Lifecycle) WithDefaults(def Lifecycle) Lifecycle {
	if l.IsZero() {
		return def
	}
	return l.Merge(def)
}

// Merge fills unset delays, backoff and timeout from def. RetryCount is kept
// as given, so an explicit policy of zero retries stays zero.
func (l Lifecycle) Merge(def Lifecycle) Lifecycle {
	if l.Backoff == "" {
		l.Backoff = def.Backoff
	}
	if l.BaseDelay == 0 {
		l.BaseDelay = def.BaseDelay
	}
	if l.TTL == 0 {
		l.TTL = def.TTL
	}
	if l.Timeout == 0 {
		l.Timeout = def.Timeout
	}
	return l
}

// Delay returns the wait before the n-th retry (n starts at 1):
// fixed d, linear d*n, exponential d*2^(n-1). The result never exceeds TTL.
func (l Lifecycle) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	d := l.BaseDelay
	switch l.Backoff {
	case BackoffLinear:
		if d > 0 && d > maxDelay/time.Duration(n) {
			d = maxDelay
		} else {
			d *= time.Duration(n)
		}
	case BackoffExponential:
		for i := 1; i < n; i++ {
			if d > maxDelay/2 {
				d = maxDelay
				break
			}
			d *= 2
		}
	}

	if l.TTL > 0 && d > l.TTL {
		d = l.TTL
	}
	return d
}

type lifecycleJSON struct {
	RetryCount int     `json:"retry_count"`
	BaseDelay  float64 `json:"base_delay"`
	Backoff    Backoff `json:"backoff"`
	TTL        float64 `json:"ttl"`
	Timeout    float64 `json:"timeout,omitempty"`
}

// MarshalJSON encodes durations as seconds.
func (l Lifecycle) MarshalJSON() ([]byte, error) {
	return json.Marshal(lifecycleJSON{
		RetryCount: l.RetryCount,
		BaseDelay:  l.BaseDelay.Seconds(),
		Backoff:    l.Backoff,
		TTL:        l.TTL.Seconds(),
		Timeout:    l.Timeout.Seconds(),
	})
}

// UnmarshalJSON decodes durations given in seconds.
func (l *Lifecycle) UnmarshalJSON(data []byte) error {
	var raw lifecycleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Lifecycle{
		RetryCount: raw.RetryCount,
		BaseDelay:  seconds(raw.BaseDelay),
		Backoff:    raw.Backoff,
		TTL:        seconds(raw.TTL),
		Timeout:    seconds(raw.Timeout),
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
