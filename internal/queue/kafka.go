// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the part of kafka.Writer a KafkaSink uses.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes to Kafka. Messages are keyed by correlation ID so all
// entries of one saga land on one partition in order.
type KafkaSink struct {
	writer KafkaWriter

	mu     sync.RWMutex
	closed bool
}

// NewKafkaSink creates a sink writing to the configured brokers and waiting
// for all in-sync replicas to acknowledge.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Send writes msg to topic.
func (s *KafkaSink) Send(ctx context.Context, topic string, m Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	keys := make([]string, 0, len(m.Metadata))
	for k := range m.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := make([]kafka.Header, 0, len(keys)+1)
	headers = append(headers, kafka.Header{Key: "message_id", Value: []byte(m.ID)})
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(m.Metadata[k])})
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(m.Key),
		Value:   m.Body,
		Headers: headers,
	})
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
