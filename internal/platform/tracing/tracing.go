// Package tracing wraps the global OpenTelemetry tracer provider. Services
// start one span per public operation and close it through End so failures
// are recorded uniformly.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "credrep/pkg/domain-errors"
)

const instrumentationPrefix = "credrep/"

// Tracer returns the named tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}

// Start opens a span. A nil tracer falls back to the global one for component.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationPrefix + "default")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span and closes it. Client errors are annotated with their
// code but do not flip the span status; only internal failures do.
func End(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	code := dErrors.CodeOf(err)
	span.SetAttributes(attribute.String("error.code", string(code)))
	if dErrors.ToHTTPStatus(code) >= 500 {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
