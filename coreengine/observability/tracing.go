// Package observability provides prometheus metrics and OpenTelemetry
// tracing for the runtime.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// TracerConfig carries the OTLP bootstrap parameters.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the host:port of the OTLP gRPC collector.
	Endpoint string
	// SampleRatio is the fraction of new traces to record; sampling
	// decisions of a parent span are honored either way.
	SampleRatio float64
	// Insecure disables TLS towards the collector.
	Insecure bool
}

// InitTracer points the global tracer provider at an OTLP gRPC
// exporter and returns the provider's shutdown function. Spans buffer
// in a batcher; call the shutdown before process exit or the tail of
// the trace is lost. The exporter connects lazily, so a missing
// collector surfaces on export, not here.
func InitTracer(ctx context.Context, cfg TracerConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("tracer: service name is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracer: collector endpoint is required")
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("tracer: create exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracer: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
