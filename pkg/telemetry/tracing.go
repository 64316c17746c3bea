// Package telemetry wires OpenTelemetry tracing into mediapress. Tracing is
// off unless explicitly enabled; when on, spans are shipped over OTLP HTTP
// to whatever endpoint OTEL_EXPORTER_OTLP_ENDPOINT points at. The optimizer
// emits one span per run and one per file, so a slow compressor shows up
// directly in the trace timeline.
package telemetry

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config tunes the tracer provider.
type Config struct {
	// Enabled gates the whole subsystem; when false InitTracer installs
	// nothing.
	Enabled bool
	// ServiceName identifies this binary in traces.
	ServiceName string
	// ServiceVersion is the build version attached to every span.
	ServiceVersion string
	// SamplerType selects the sampling strategy: always, never or ratio.
	SamplerType string
	// SamplerRatio is the sampled fraction when SamplerType is ratio.
	SamplerRatio float64
}

func (c Config) sampler() sdktrace.Sampler {
	switch c.SamplerType {
	case "never":
		return sdktrace.NeverSample()
	case "ratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SamplerRatio))
	default:
		return sdktrace.AlwaysSample()
	}
}

// InitTracer installs the global tracer provider and returns the shutdown
// function that flushes buffered spans. When tracing is disabled the
// returned shutdown is a no-op and no global state is touched.
func InitTracer(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating telemetry resource")
	}

	// Endpoint and auth come from the standard OTEL_EXPORTER_OTLP_* env vars.
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating trace exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(
			exporter,
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithBatchTimeout(time.Second),
		)),
		sdktrace.WithSampler(cfg.sampler()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(provider.Shutdown(ctx), exporter.Shutdown(ctx))
	}, nil
}
