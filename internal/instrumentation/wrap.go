package instrumentation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Kind is the category of a registered handler.
type Kind string

// Handler kinds.
const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// ErrHandlerPanic marks a span whose handler panicked. The panic itself is
// re-raised unchanged.
var ErrHandlerPanic = errors.New("handler panicked")

// ErrHandlerGoexit marks a span whose handler called runtime.Goexit.
var ErrHandlerGoexit = errors.New("handler exited its goroutine")

// CounterName returns the invocation counter for handlers of this kind.
func (k Kind) CounterName() string {
	switch k {
	case KindTool:
		return "mcp_tool_invocations_total"
	case KindResource:
		return "mcp_resource_reads_total"
	case KindPrompt:
		return "mcp_prompt_invocations_total"
	default:
		return "mcp_handler_invocations_total"
	}
}

// LabelKey returns the counter label carrying the handler name.
func (k Kind) LabelKey() string {
	switch k {
	case KindTool, KindResource, KindPrompt:
		return string(k)
	default:
		return "handler"
	}
}

// CounterLabels returns the counter label set for the named handler.
func (k Kind) CounterLabels(name string) map[string]string {
	return map[string]string{k.LabelKey(): name}
}

func (k Kind) counterDescription() string {
	switch k {
	case KindTool:
		return "Total number of MCP tool invocations"
	case KindResource:
		return "Total number of MCP resource reads"
	case KindPrompt:
		return "Total number of MCP prompt invocations"
	default:
		return "Total number of MCP handler invocations"
	}
}

// Handler is the shape shared by every MCP handler: a request in, a result
// or an error out.
type Handler[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Descriptor identifies the handler being wrapped.
type Descriptor[Req any] struct {
	// Name is the registered handler name (tool name, resource URI, prompt name).
	Name string

	// Kind selects the invocation counter.
	Kind Kind

	// SpanName overrides the default "<kind>.<name>".
	SpanName string

	// Extractor optionally derives span attributes from the request.
	Extractor Extractor[Req]
}

// ResolvedSpanName returns SpanName, or "<kind>.<name>" when it is empty.
func (d Descriptor[Req]) ResolvedSpanName() string {
	if d.SpanName != "" {
		return d.SpanName
	}
	return string(d.Kind) + "." + d.Name
}

// WrapOption adjusts how a wrapped handler's outcome is reported.
type WrapOption[Res any] func(*wrapConfig[Res])

type wrapConfig[Res any] struct {
	resultError func(Res) error
}

// WithResultError reports a successful return as a failed span when fn
// returns a non-nil error. The result itself is returned unchanged.
func WithResultError[Res any](fn func(Res) error) WrapOption[Res] {
	return func(c *wrapConfig[Res]) {
		c.resultError = fn
	}
}

// Wrap returns a handler with the same contract as handler that runs every
// invocation inside its own root span and counts it.
//
// Per invocation: open the root span, apply extracted attributes, call the
// handler, increment the kind's counter, close the span, and return the
// handler's result and error untouched. Invocations that fail or panic are
// counted too. A panic is re-raised after the span is closed; a
// runtime.Goexit keeps unwinding after it.
//
// A nil Instrumenter returns handler as is.
func Wrap[Req, Res any](inst *Instrumenter, desc Descriptor[Req], handler Handler[Req, Res], opts ...WrapOption[Res]) Handler[Req, Res] {
	if inst == nil {
		return handler
	}

	var cfg wrapConfig[Res]
	for _, opt := range opts {
		opt(&cfg)
	}

	spanName := desc.ResolvedSpanName()
	counterName := desc.Kind.CounterName()
	labels := desc.Kind.CounterLabels(desc.Name)
	spanAttrs := []attribute.KeyValue{
		attribute.String(SpanAttrHandler, desc.Name),
		attribute.String(SpanAttrKind, string(desc.Kind)),
	}

	return func(ctx context.Context, req Req) (Res, error) {
		inv := &Invocation{
			Kind:      desc.Kind,
			Name:      desc.Name,
			SpanName:  spanName,
			StartTime: inst.clock.Now(),
		}

		ctx, span := inst.spans.StartRootSpan(ctx, spanName, spanAttrs...)
		span.SetAttributes(applyExtractor(inst.logger, spanName, desc.Extractor, req))

		returned := false
		defer func() {
			if returned {
				return
			}
			r := recover()
			if r == nil {
				// runtime.Goexit: record it and let the unwinding continue.
				inst.complete(ctx, span, inv, counterName, labels, ErrHandlerGoexit)
				return
			}
			inst.complete(ctx, span, inv, counterName, labels, fmt.Errorf("%w: %v", ErrHandlerPanic, r))
			panic(r)
		}()

		res, err := handler(ctx, req)
		returned = true

		failure := err
		if failure == nil && cfg.resultError != nil {
			failure = cfg.resultError(res)
		}
		inst.complete(ctx, span, inv, counterName, labels, failure)

		return res, err
	}
}

// complete records the outcome of one invocation: the counter first, then
// duration metrics, then the span is closed and the audit line written.
func (i *Instrumenter) complete(ctx context.Context, span *ScopedSpan, inv *Invocation, counterName string, labels map[string]string, failure error) {
	i.counters.Increment(ctx, counterName, labels)

	inv.Duration = i.clock.Now().Sub(inv.StartTime)
	inv.Success = failure == nil
	if failure != nil {
		inv.Error = failure.Error()
	}

	i.metrics.RecordInvocation(ctx, inv.Kind, inv.Name, inv.Status(), inv.Duration)

	span.End(failure)

	if sc := span.SpanContext(); sc.IsValid() {
		inv.TraceID = sc.TraceID().String()
		inv.SpanID = sc.SpanID().String()
	}
	i.audit.LogInvocation(ctx, inv)
}
