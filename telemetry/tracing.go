package telemetry

import (
	"context"

	"github.com/smallnest/checkpointer/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/smallnest/checkpointer"

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer(instrumentationName)

// StartSpan starts a span named "checkpointer.<op>" tagged with the thread id
func StartSpan(ctx context.Context, op, threadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("thread.id", threadID))
	return tracer.Start(ctx, "checkpointer."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan completes a span. A not-found result is not an error: the span is
// marked Ok with a "not_found" event.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case store.IsNotFound(err):
		span.AddEvent("not_found")
		span.SetStatus(codes.Ok, "")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
