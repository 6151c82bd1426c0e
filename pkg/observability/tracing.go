// Package observability provides tracing and metrics for teamdesk components.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for teamdesk operations.
const TracerName = "teamdesk"

// Span attribute keys
const (
	AttrOp        = "backend.op"
	AttrTable     = "backend.table"
	AttrErrorCode = "error_code"
	AttrRetryable = "retryable"
	AttrEntity    = "entity"
	AttrEntityID  = "entity_id"
	AttrMentioned = "mentioned_count"
)

// Span names
const (
	SpanBackendCall     = "teamdesk.backend.call"
	SpanMentionReplace  = "teamdesk.mentions.replace"
	SpanProfileFetch    = "teamdesk.profiles.fetch"
	SpanOptimisticWrite = "teamdesk.optimistic.write"
)

// Tracer wraps an OpenTelemetry tracer. A nil *Tracer is valid and
// produces no-op spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// NewTracerWithProvider creates a tracer from the given provider.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartBackendCall starts a span for one call to the backend collaborator.
func (t *Tracer) StartBackendCall(ctx context.Context, op, table string) (context.Context, trace.Span) {
	return t.start(ctx, SpanBackendCall,
		attribute.String(AttrOp, op),
		attribute.String(AttrTable, table),
	)
}

// StartMentionReplace starts a span covering both phases of a mention record replacement.
func (t *Tracer) StartMentionReplace(ctx context.Context, entity, entityID string, mentioned int) (context.Context, trace.Span) {
	return t.start(ctx, SpanMentionReplace,
		attribute.String(AttrEntity, entity),
		attribute.String(AttrEntityID, entityID),
		attribute.Int(AttrMentioned, mentioned),
	)
}

// StartProfileFetch starts a span for a full profile table fetch.
func (t *Tracer) StartProfileFetch(ctx context.Context) (context.Context, trace.Span) {
	return t.start(ctx, SpanProfileFetch)
}

// StartOptimisticWrite starts a span for the confirming write of an optimistic send.
func (t *Tracer) StartOptimisticWrite(ctx context.Context, entity string) (context.Context, trace.Span) {
	return t.start(ctx, SpanOptimisticWrite, attribute.String(AttrEntity, entity))
}

// SetError records an error on the span.
func SetError(span trace.Span, err error, errorCode string, retryable bool) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(AttrErrorCode, errorCode),
		attribute.Bool(AttrRetryable, retryable),
	)
	span.RecordError(err)
}

// SetSuccess marks the span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
