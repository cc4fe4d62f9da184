package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentify"

// StartTurnSpan starts a span covering one orchestration turn.
func StartTurnSpan(ctx context.Context, pattern, workflowID, traceID string, turnNumber int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("turn.pattern", pattern),
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.trace_id", traceID),
			attribute.Int("turn.number", turnNumber),
		),
	)
}

// StartNodeSpan starts a span for one agent invocation within a turn.
func StartNodeSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "node",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
		),
	)
}

// StartArbiterSpan starts a span for one routing arbitration call.
func StartArbiterSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "arbiter",
		trace.WithAttributes(
			attribute.String("arbiter.model", model),
		),
	)
}
