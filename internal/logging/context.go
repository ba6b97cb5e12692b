// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	sagaIDKey        contextKey = "saga_id"
	waveIDKey        contextKey = "wave_id"
	requestIDKey     contextKey = "request_id"
	loggerKey        contextKey = "logger"
)

// contextFields lists the identifiers Ctx copies onto log events, in output order.
var contextFields = []contextKey{correlationIDKey, sagaIDKey, waveIDKey, requestIDKey}

// GenerateCorrelationID creates a new unique correlation ID.
// Returns the first 8 characters of a UUID for readability.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// GenerateRequestID creates a new unique request ID (full UUID).
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithCorrelationID returns a new context with the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// ContextWithSagaID returns a new context carrying a saga ID.
func ContextWithSagaID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sagaIDKey, id)
}

// SagaIDFromContext retrieves the saga ID from context.
func SagaIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sagaIDKey)
}

// ContextWithWaveID returns a new context carrying a wave ID.
func ContextWithWaveID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, waveIDKey, id)
}

// WaveIDFromContext retrieves the wave ID from context.
func WaveIDFromContext(ctx context.Context) string {
	return stringValue(ctx, waveIDKey)
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if id, ok := ctx.Value(key).(string); ok {
		return id
	}
	return ""
}

// ContextWithLogger stores a logger in the context.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves a logger from context, falling back to the global logger.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return Logger()
}

// Ctx returns a logger with the context identifiers added as fields.
//
//	logging.Ctx(ctx).Info().Msg("Milestone completed")
//	// {"level":"info","correlation_id":"wave-7","saga_id":"saga_wave_a1b2c3d4",...}
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := CtxWith(ctx).Logger()
	return &logger
}

// CtxWith returns a logger context builder with context values pre-populated.
func CtxWith(ctx context.Context) zerolog.Context {
	logger := LoggerFromContext(ctx)
	logCtx := logger.With()
	for _, key := range contextFields {
		if v := stringValue(ctx, key); v != "" {
			logCtx = logCtx.Str(string(key), v)
		}
	}
	return logCtx
}

// WithComponent creates a child logger with a component field.
//
//	schedLog := logging.WithComponent("scheduler")
func WithComponent(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}
