// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wal

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

const (
	prefixEntry       = "e:"
	prefixNamespace   = "n:"
	prefixCorrelation = "c:"
	prefixSeries      = "s:"
	prefixStatus      = "x:"
	prefixDue         = "r:"

	sep = "\x00"
)

func entryKey(logID string) []byte {
	return []byte(prefixEntry + logID)
}

func namespacePrefix(namespace string) []byte {
	return []byte(prefixNamespace + namespace + sep)
}

func namespaceKey(namespace string, created time.Time, logID string) []byte {
	return []byte(prefixNamespace + namespace + sep + stamp(created) + sep + logID)
}

func correlationPrefix(correlationID string) []byte {
	return []byte(prefixCorrelation + correlationID + sep)
}

func correlationKey(correlationID, logID string) []byte {
	return []byte(prefixCorrelation + correlationID + sep + logID)
}

func seriesKey(kind Kind, namespace, correlationID string, sequence int) []byte {
	return []byte(prefixSeries + string(kind) + sep + namespace + sep + correlationID + sep + strconv.Itoa(sequence))
}

func statusPrefix(status Status) []byte {
	return []byte(prefixStatus + string(status) + sep)
}

func statusKey(status Status, logID string) []byte {
	return []byte(prefixStatus + string(status) + sep + logID)
}

func dueKey(at time.Time, logID string) []byte {
	return []byte(prefixDue + stamp(at) + sep + logID)
}

// dueUntil is the exclusive upper bound for due keys at or before t.
func dueUntil(t time.Time) []byte {
	return []byte(prefixDue + stamp(t.Add(time.Nanosecond)))
}

// stamp renders t as fixed-width nanoseconds so keys sort chronologically.
func stamp(t time.Time) string {
	ns := t.UnixNano()
	if ns < 0 {
		ns = 0
	}
	return fmt.Sprintf("%020d", ns)
}

// lastSegment returns the part of an index key after its final separator.
func lastSegment(key []byte) string {
	i := bytes.LastIndex(key, []byte(sep))
	if i < 0 {
		return string(key)
	}
	return string(key[i+1:])
}

// namespaceStamp returns the timestamp segment of a namespace index key.
func namespaceStamp(key []byte, prefixLen int) string {
	rest := key[prefixLen:]
	i := bytes.Index(rest, []byte(sep))
	if i < 0 {
		return ""
	}
	return string(rest[:i])
}
