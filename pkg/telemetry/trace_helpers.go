package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the global provider, defaulting to
// "mediapress" when name is empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = "mediapress"
	}
	return otel.GetTracerProvider().Tracer(name)
}

// WithSpan runs f inside a span, recording its error and setting the span
// status accordingly.
func WithSpan(ctx context.Context, name string, f func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := Tracer("mediapress").Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	if err := f(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// WithSpanFunc is WithSpan for functions with no error to return.
func WithSpanFunc(ctx context.Context, name string, f func(context.Context), attrs ...attribute.KeyValue) {
	ctx, span := Tracer("mediapress").Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	f(ctx)
	span.SetStatus(codes.Ok, "")
}

// SetAttributes adds attributes to the span active in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// RecordError records err on the span active in ctx and marks the span
// failed. The file pipeline uses it for failures that are reported as
// outcomes rather than returned as errors.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// FileAttribute identifies the file an optimizer span is about.
func FileAttribute(path string) attribute.KeyValue {
	return attribute.String("media.file", path)
}

// RunAttributes describes the shape of a batch run.
func RunAttributes(files, workers int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("media.files", files),
		attribute.Int("media.workers", workers),
	}
}

// OutcomeAttributes describes how a file's pass through the pipeline ended.
func OutcomeAttributes(kind, status string, bytesSaved int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("media.kind", kind),
		attribute.String("media.status", status),
		attribute.Int64("media.bytes_saved", bytesSaved),
	}
}
