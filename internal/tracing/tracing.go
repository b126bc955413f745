// Package tracing provides OpenTelemetry span helpers used around bridge
// dispatch, orchestrator commands and plugin IPC request handling — the
// three places in the core where a span usefully brackets cross-goroutine
// work.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vinayprograms/crucible"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name under ctx, annotated with attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndSpan ends span, recording err if non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartBridgeDispatch starts a span for one bridge dispatch of a single
// DaemonEvent through the routing/filter/delivery pipeline.
func StartBridgeDispatch(ctx context.Context, eventID, kind string) (context.Context, trace.Span) {
	return StartSpan(ctx, "bridge.dispatch",
		attribute.String("event.id", eventID),
		attribute.String("event.kind", kind),
	)
}

// StartOrchestratorCommand starts a span for one orchestrator mailbox
// command.
func StartOrchestratorCommand(ctx context.Context, command, serviceID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "orchestrator.command",
		attribute.String("command", command),
		attribute.String("service.id", serviceID),
	)
}

// StartPluginRequest starts a span for one inbound plugin IPC request.
func StartPluginRequest(ctx context.Context, operation, pluginID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "pluginipc.request",
		attribute.String("operation", operation),
		attribute.String("plugin.id", pluginID),
	)
}
