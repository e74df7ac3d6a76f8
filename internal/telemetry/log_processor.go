package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kimhsiao/campaignsync/internal/logging"
)

// LogProcessor writes every ended span to the structured log. Setup installs
// it when tracing is enabled without processors of its own.
type LogProcessor struct{}

func (LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (LogProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	fields := SpanFields(span)
	if span.Status().Code == codes.Error {
		fields["status"] = "error"
		fields["error"] = span.Status().Description
		logging.Warn("Span ended", fields)
		return
	}
	logging.Info("Span ended", fields)
}

func (LogProcessor) Shutdown(context.Context) error   { return nil }
func (LogProcessor) ForceFlush(context.Context) error { return nil }

// SpanFields flattens a span into log fields: its name, duration in
// milliseconds and attributes.
func SpanFields(span sdktrace.ReadOnlySpan) map[string]interface{} {
	attrs := span.Attributes()
	fields := make(map[string]interface{}, len(attrs)+2)
	fields["span"] = span.Name()
	fields["duration_ms"] = span.EndTime().Sub(span.StartTime()).Milliseconds()
	for _, kv := range attrs {
		fields[string(kv.Key)] = kv.Value.AsInterface()
	}
	return fields
}
