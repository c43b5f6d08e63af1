package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PassInfo describes one event loop pass.
type PassInfo struct {
	RunID   string
	Pass    int
	Slots   int
	Ranges  int
	Actions int
	Entries int64
}

// PassSpanAttributes builds canonical span attributes for a pass.
func PassSpanAttributes(info PassInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int("dataframe.pass.number", info.Pass),
		attribute.Int("dataframe.pass.slots", info.Slots),
		attribute.Int("dataframe.pass.ranges", info.Ranges),
		attribute.Int("dataframe.pass.actions", info.Actions),
	}
	if info.RunID != "" {
		attrs = append(attrs, attribute.String("dataframe.run_id", info.RunID))
	}
	if info.Entries > 0 {
		attrs = append(attrs, attribute.Int64("dataframe.pass.entries", info.Entries))
	}
	return attrs
}

// PassLogFields builds canonical structured log fields for a pass.
func PassLogFields(ctx context.Context, info PassInfo) []any {
	fields := []any{
		slog.Int("pass", info.Pass),
		slog.Int("slots", info.Slots),
		slog.Int("ranges", info.Ranges),
		slog.Int("actions", info.Actions),
	}
	if info.Entries > 0 {
		fields = append(fields, slog.Int64("entries", info.Entries))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
