// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package queue provides operation handlers that hand a WAL entry to a
// message broker instead of calling a service directly.
//
// The entry's log ID becomes the message ID, so a repeated attempt after a
// crash publishes a message brokers with deduplication (JetStream) drop.
// Consumers of other brokers must deduplicate on the message ID themselves.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/wavesaga/internal/dispatch"
	"github.com/tomtom215/wavesaga/internal/wal"
)

// ErrClosed is returned by a sink after Close.
var ErrClosed = errors.New("queue sink is closed")

// Metadata keys set on every message.
const (
	MetaLogID         = "wal_log_id"
	MetaNamespace     = "wal_namespace"
	MetaCorrelationID = "wal_correlation_id"
	MetaSequence      = "wal_sequence"
	MetaKind          = "wal_kind"
	MetaSagaID        = "saga_id"
	MetaMilestone     = "milestone"
	MetaAttempt       = "attempt"
)

// Message is a broker-neutral message.
type Message struct {
	ID       string
	Key      string
	Body     []byte
	Metadata map[string]string
}

// Sink publishes messages to a broker topic.
type Sink interface {
	Send(ctx context.Context, topic string, msg Message) error
	Close() error
}

// Receipt is the result a queue handler records on the entry.
type Receipt struct {
	Backend   string `json:"backend"`
	Topic     string `json:"topic"`
	MessageID string `json:"message_id"`
}

// Handler publishes each entry it handles to the topic named by its target.
type Handler struct {
	sink    Sink
	backend string
}

// NewHandler creates a handler publishing through sink.
func NewHandler(sink Sink, backend string) *Handler {
	return &Handler{sink: sink, backend: backend}
}

// MessageFor builds the message published for an entry.
func MessageFor(e *wal.Entry) Message {
	meta := map[string]string{
		MetaLogID:         e.LogID,
		MetaNamespace:     e.Namespace,
		MetaCorrelationID: e.CorrelationID,
		MetaSequence:      strconv.Itoa(e.Sequence),
		MetaKind:          string(e.Kind),
		MetaAttempt:       strconv.Itoa(e.AttemptCount),
	}
	if e.SagaID != "" {
		meta[MetaSagaID] = e.SagaID
		meta[MetaMilestone] = e.Milestone
	}
	body := []byte(e.Payload)
	if len(body) == 0 {
		body = []byte("null")
	}
	return Message{ID: e.LogID, Key: e.CorrelationID, Body: body, Metadata: meta}
}

// Handle implements dispatch.OperationHandler. Broker failures are
// transient and retried by the scheduler.
func (h *Handler) Handle(ctx context.Context, e *wal.Entry) (json.RawMessage, error) {
	msg := MessageFor(e)
	err := h.sink.Send(ctx, e.Target, msg)
	RecordPublish(h.backend, err)
	if err != nil {
		return nil, fmt.Errorf("publish %s to %s: %w", e.LogID, e.Target, err)
	}
	return json.Marshal(Receipt{Backend: h.backend, Topic: e.Target, MessageID: msg.ID})
}

// Register binds the handler to every target.
func (h *Handler) Register(reg *dispatch.Registry, targets ...string) error {
	for _, t := range targets {
		if err := reg.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}
