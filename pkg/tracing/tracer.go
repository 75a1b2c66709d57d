// Package tracing provides the shared OTel tracer helper.
//
// Without a registered TracerProvider (tests, local runs) the global no-op
// provider is used and spans cost nothing.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "pilgrimops"

// Start opens a span as a child of the span in ctx. The caller must End it.
//
//	ctx, span := tracing.Start(ctx, "jobs.execute",
//	    attribute.String("pilgrimops.job.id", job.ID),
//	)
//	defer span.End()
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// StartLinked opens a root span linked to link. Used for work that outlives
// the request that triggered it, such as a job submitted over HTTP.
func StartLinked(ctx context.Context, link trace.SpanContext, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{trace.WithAttributes(attrs...), trace.WithNewRoot()}
	if link.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: link}))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}
