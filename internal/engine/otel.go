package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowrt/internal/ir"
)

const tracerName = "flowrt/engine"

// startBatchSpan creates the root span of one batch.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startBatchSpan(ctx context.Context, batchID, flowID string, size int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "batch")
	span.SetAttributes(
		attribute.String("batch_id", batchID),
		attribute.String("flow_id", flowID),
		attribute.Int("batch_size", size),
	)
	return ctx, span
}

// startActionSpan creates a child span for one action.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startActionSpan(ctx context.Context, batchID string, action ir.Action) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "action."+actionLabel(action.Type))
	span.SetAttributes(
		attribute.String("batch_id", batchID),
		attribute.String("action_type", action.Type),
		attribute.Int64("action_seq", action.Seq),
	)
	return ctx, span
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
