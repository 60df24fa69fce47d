package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan creates a new server span (for incoming requests)
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for lorekeep spans
var (
	AttrDatasetID      = attribute.Key("lorekeep.dataset.id")
	AttrDatasetName    = attribute.Key("lorekeep.dataset.name")
	AttrUserID         = attribute.Key("lorekeep.user.id")
	AttrTenantID       = attribute.Key("lorekeep.tenant.id")
	AttrPermission     = attribute.Key("lorekeep.permission")
	AttrGraphProvider  = attribute.Key("lorekeep.graph.provider")
	AttrVectorProvider = attribute.Key("lorekeep.vector.provider")
)
