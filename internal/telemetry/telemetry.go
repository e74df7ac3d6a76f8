// Package telemetry owns the OpenTelemetry tracer provider for the sync core.
//
// Tracing is off unless the host opts in. Until Setup is called with
// Enabled, otel's global provider stays the no-op default and every span
// started by the core is discarded. The host passes the span processors it
// wants; with none, ended spans go to the structured log.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName prefixes every tracer the core creates.
const InstrumentationName = "github.com/kimhsiao/campaignsync"

// Options configures Setup.
type Options struct {
	Enabled    bool
	Processors []sdktrace.SpanProcessor
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Setup installs a tracer provider when opts.Enabled. It returns a shutdown
// function that is safe to call when tracing stayed disabled.
func Setup(opts Options) (shutdown func(context.Context) error) {
	mu.Lock()
	defer mu.Unlock()

	if !opts.Enabled {
		return func(context.Context) error { return nil }
	}

	processors := opts.Processors
	if len(processors) == 0 {
		processors = []sdktrace.SpanProcessor{LogProcessor{}}
	}
	popts := make([]sdktrace.TracerProviderOption, 0, len(processors))
	for _, p := range processors {
		popts = append(popts, sdktrace.WithSpanProcessor(p))
	}
	provider = sdktrace.NewTracerProvider(popts...)
	otel.SetTracerProvider(provider)

	return Shutdown
}

// IsEnabled reports whether an SDK provider is installed.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return provider != nil
}

// Shutdown flushes and removes the installed provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	p := provider
	provider = nil
	mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Shutdown(ctx)
}

// Tracer returns a tracer for a core component, e.g. Tracer("queue").
func Tracer(component string) trace.Tracer {
	return otel.Tracer(InstrumentationName + "/" + component)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
