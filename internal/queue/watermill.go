// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/wavesaga/internal/logging"
)

// WatermillSink publishes through a watermill publisher.
type WatermillSink struct {
	publisher message.Publisher

	mu     sync.RWMutex
	closed bool
}

// NewWatermillSink wraps an existing publisher.
func NewWatermillSink(pub message.Publisher) *WatermillSink {
	return &WatermillSink{publisher: pub}
}

func watermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger("watermill"))
}

// NewMemorySink returns an in-process gochannel sink and the pub/sub behind
// it, so in-process consumers can subscribe.
func NewMemorySink() (*WatermillSink, *gochannel.GoChannel) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          true,
	}, watermillLogger())
	return NewWatermillSink(pubsub), pubsub
}

// NewNATSSink connects a JetStream publisher. Messages carry their log ID
// as Nats-Msg-Id so JetStream drops repeated publishes of one entry.
func NewNATSSink(cfg NATSConfig) (*WatermillSink, error) {
	logger := watermillLogger()

	opts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: opts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: cfg.AutoProvision,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return NewWatermillSink(pub), nil
}

// Send publishes msg to topic.
func (s *WatermillSink) Send(ctx context.Context, topic string, m Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	msg := message.NewMessage(m.ID, m.Body)
	for k, v := range m.Metadata {
		msg.Metadata.Set(k, v)
	}
	msg.SetContext(ctx)
	return s.publisher.Publish(topic, msg)
}

// Close closes the publisher.
func (s *WatermillSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.publisher.Close()
}
