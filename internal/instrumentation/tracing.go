package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the default tracer name for the mcpdemo module.
const TracerName = "github.com/teemow/mcpdemo"

// Span attribute keys set by the wrapper on every handler span.
const (
	// SpanAttrHandler is the registered handler name.
	SpanAttrHandler = "mcp.handler.name"

	// SpanAttrKind is the handler kind (tool, resource, prompt).
	SpanAttrKind = "mcp.handler.kind"

	// SpanAttrStatus is the invocation status (success, error).
	SpanAttrStatus = "mcp.status"
)

// SpanFactory creates handler spans. Spans it creates are always roots:
// they never nest under a span already present in the caller's context.
type SpanFactory struct {
	tracer trace.Tracer
}

// NewSpanFactory creates a SpanFactory using the given tracer provider.
// A nil provider yields a factory producing no-op spans.
func NewSpanFactory(tp trace.TracerProvider) *SpanFactory {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &SpanFactory{tracer: tp.Tracer(TracerName)}
}

// StartRootSpan starts a new trace rooted at a span with the given name.
// The returned context carries both the OpenTelemetry span and the
// ScopedSpan, so code running under it can add attributes.
func (f *SpanFactory) StartRootSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *ScopedSpan) {
	ctx, span := f.tracer.Start(ctx, name,
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	scoped := &ScopedSpan{name: name, span: span}
	return context.WithValue(ctx, scopedSpanKey{}, scoped), scoped
}

type scopedSpanKey struct{}

// ScopedSpanFromContext returns the handler span started for the current
// invocation, if any.
func ScopedSpanFromContext(ctx context.Context) (*ScopedSpan, bool) {
	s, ok := ctx.Value(scopedSpanKey{}).(*ScopedSpan)
	return s, ok
}

// ScopedSpan is a span owned by exactly one invocation. It is closed once
// with End; later calls to End are ignored.
type ScopedSpan struct {
	name string
	span trace.Span

	mu     sync.Mutex
	failed error
	ended  bool
}

// Name returns the span name.
func (s *ScopedSpan) Name() string {
	return s.name
}

// SpanContext returns the underlying OpenTelemetry span context.
func (s *ScopedSpan) SpanContext() trace.SpanContext {
	return s.span.SpanContext()
}

// SetAttribute sets a single attribute. Setting the same key twice keeps
// the last value.
func (s *ScopedSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(AttributeFor(key, value))
}

// SetAttributes sets every entry of attrs on the span.
func (s *ScopedSpan) SetAttributes(attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, AttributeFor(k, v))
	}
	s.span.SetAttributes(kvs...)
}

// Fail marks the span as failed without closing it. End reports the
// failure even when it is called with a nil error.
func (s *ScopedSpan) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = err
	}
}

// End closes the span. A non-nil err, or an earlier Fail, sets error status.
func (s *ScopedSpan) End(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if err == nil {
		err = s.failed
	}
	s.mu.Unlock()

	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.span.SetAttributes(attribute.String(SpanAttrStatus, StatusError))
	} else {
		s.span.SetStatus(codes.Ok, "")
		s.span.SetAttributes(attribute.String(SpanAttrStatus, StatusSuccess))
	}
	s.span.End()
}

// AttributeFor converts a scalar Go value into an OpenTelemetry attribute.
// Unsupported types are rendered with fmt.Sprint.
func AttributeFor(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int8:
		return attribute.Int64(key, int64(v))
	case int16:
		return attribute.Int64(key, int64(v))
	case int32:
		return attribute.Int64(key, int64(v))
	case int64:
		return attribute.Int64(key, v)
	case uint8:
		return attribute.Int64(key, int64(v))
	case uint16:
		return attribute.Int64(key, int64(v))
	case uint32:
		return attribute.Int64(key, int64(v))
	case uint:
		return attribute.Int64(key, int64(v))
	case uint64:
		return attribute.Int64(key, int64(v))
	case float32:
		return attribute.Float64(key, float64(v))
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	case nil:
		return attribute.String(key, "")
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
// Returns empty string if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
