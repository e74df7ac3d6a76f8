package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// tracePrinter prints one line per ended drain, batch, execute or remote
// span, children indented under their parent.
type tracePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newTracePrinter(w io.Writer) *tracePrinter {
	return &tracePrinter{w: w}
}

func (p *tracePrinter) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *tracePrinter) OnEnd(span sdktrace.ReadOnlySpan) {
	line := formatSpanLine(span)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *tracePrinter) Shutdown(context.Context) error   { return nil }
func (p *tracePrinter) ForceFlush(context.Context) error { return nil }

func formatSpanLine(span sdktrace.ReadOnlySpan) string {
	prefix := successStyle.Render("[ok]")
	if span.Status().Code == codes.Error {
		prefix = errorStyle.Render("[x]")
	}

	indent := "  "
	if span.Parent().IsValid() {
		indent = "    "
	}

	attrs := make([]string, 0, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs = append(attrs, fmt.Sprintf("%s=%s", kv.Key, kv.Value.Emit()))
	}
	sort.Strings(attrs)

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %s %s", indent, prefix, span.Name(),
		muted(span.EndTime().Sub(span.StartTime()).Round(time.Millisecond).String()))
	if len(attrs) > 0 {
		fmt.Fprintf(&b, " %s", muted(strings.Join(attrs, " ")))
	}
	if desc := span.Status().Description; desc != "" {
		fmt.Fprintf(&b, " (%s)", desc)
	}
	return b.String()
}
