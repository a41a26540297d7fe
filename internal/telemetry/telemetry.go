// Package telemetry wires the optional OpenTelemetry tracer provider
// used to wrap the tunnel session and relay operations.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"reversetunnel/internal/config"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(ctx context.Context) error

// noopShutdown is returned when telemetry is disabled.
func noopShutdown(context.Context) error { return nil }

// InitTracer installs a global TracerProvider when cfg.Enabled, and
// leaves the existing (no-op) global provider untouched otherwise.
// Only the "stdout" exporter is wired.
func InitTracer(cfg config.Telemetry, serviceName, nodeID string) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return noopShutdown, fmt.Errorf("telemetry: new stdout exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceInstanceIDKey.String(nodeID),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("telemetry: merge resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the named tracer from the current global provider —
// a no-op tracer when telemetry is disabled, so call sites never need
// to branch on whether tracing is active.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
