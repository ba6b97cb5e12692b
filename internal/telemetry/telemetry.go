// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package telemetry installs the OpenTelemetry tracer provider used by the
// saga and wave spans. Tracing is opt-in; when disabled the global no-op
// provider stays in place.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tomtom215/wavesaga/internal/logging"
)

// Config holds tracing settings. Loaded under the "telemetry" key.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP/HTTP collector URL, e.g. http://otel:4318.
	Endpoint string `koanf:"endpoint"`

	ServiceName string `koanf:"service_name"`

	// SampleRatio is the fraction of root spans kept, 0 to 1.
	SampleRatio float64 `koanf:"sample_ratio"`
}

// DefaultConfig returns tracing disabled with full sampling once enabled.
func DefaultConfig() Config {
	return Config{
		ServiceName: "wavesaga",
		SampleRatio: 1.0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("telemetry: endpoint is required when enabled")
	}
	if c.ServiceName == "" {
		return errors.New("telemetry: service_name is required")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.New("telemetry: sample_ratio must be between 0 and 1")
	}
	return nil
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs a global tracer provider exporting to cfg.Endpoint. The
// returned Shutdown must be called on exit; it is a no-op when tracing is off.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logging.Info().
		Str("endpoint", cfg.Endpoint).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("Tracing enabled")
	return tp.Shutdown, nil
}
