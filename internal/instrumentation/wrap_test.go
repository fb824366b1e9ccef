package instrumentation

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type addArgs struct {
	A, B int
}

func addHandler(_ context.Context, req addArgs) (int, error) {
	return req.A + req.B, nil
}

func addExtractor(req addArgs) (map[string]any, error) {
	return map[string]any{"a": req.A, "b": req.B}, nil
}

func TestWrap_AddScenario(t *testing.T) {
	h := newHarness(t)

	add := Wrap(h.inst, Descriptor[addArgs]{
		Name:      "add",
		Kind:      KindTool,
		Extractor: addExtractor,
	}, addHandler)

	got, err := add(context.Background(), addArgs{A: 2, B: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.add", spans[0].Name)
	assert.False(t, spans[0].Parent.IsValid(), "handler span must be a root")
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	attrs := spanAttributes(spans[0])
	assert.Equal(t, int64(2), attrs["a"])
	assert.Equal(t, int64(3), attrs["b"])
	assert.Equal(t, "add", attrs[SpanAttrHandler])
	assert.Equal(t, "tool", attrs[SpanAttrKind])
	assert.Equal(t, StatusSuccess, attrs[SpanAttrStatus])

	labels := map[string]string{"tool": "add"}
	assert.Equal(t, int64(1), h.inst.Counters().Value("mcp_tool_invocations_total", labels))

	exported, ok := h.counterPoint(t, "mcp_tool_invocations_total", labels)
	require.True(t, ok, "counter should be exported")
	assert.Equal(t, int64(1), exported)
}

func TestWrap_ExtractorFailureDoesNotAffectHandler(t *testing.T) {
	h := newHarness(t)

	echo := Wrap(h.inst, Descriptor[*string]{
		Name: "echo",
		Kind: KindTool,
		Extractor: func(msg *string) (map[string]any, error) {
			return map[string]any{"message.length": len(*msg)}, nil // panics on nil
		},
	}, func(_ context.Context, msg *string) (*string, error) {
		return msg, nil
	})

	got, err := echo(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.NotContains(t, spanAttributes(spans[0]), "message.length")

	assert.Equal(t, int64(1), h.inst.Counters().Value("mcp_tool_invocations_total", map[string]string{"tool": "echo"}))

	line := findLogLine(t, h.logs.String(), "attribute extraction failed")
	assert.Equal(t, "WARN", line.Get("level").String())
	assert.Equal(t, "tool.echo", line.Get("span").String())
	assert.Contains(t, line.Get("error").String(), ErrExtractorPanic.Error())
}

func TestWrap_ExtractorErrorIsLogged(t *testing.T) {
	h := newHarness(t)
	extractErr := errors.New("missing message")

	echo := Wrap(h.inst, Descriptor[string]{
		Name:      "echo",
		Kind:      KindTool,
		SpanName:  "echo-span",
		Extractor: func(string) (map[string]any, error) { return map[string]any{"ignored": true}, extractErr },
	}, func(_ context.Context, msg string) (string, error) {
		return msg, nil
	})

	got, err := echo(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "echo-span", spans[0].Name)
	assert.NotContains(t, spanAttributes(spans[0]), "ignored")

	line := findLogLine(t, h.logs.String(), "attribute extraction failed")
	assert.Equal(t, "echo-span", line.Get("span").String())
	assert.Equal(t, "missing message", line.Get("error").String())
}

func TestWrap_ConcurrentInvocationsAreAllCounted(t *testing.T) {
	h := newHarness(t)

	noop := Wrap(h.inst, Descriptor[struct{}]{Name: "noop", Kind: KindTool},
		func(context.Context, struct{}) (struct{}, error) { return struct{}{}, nil })

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = noop(context.Background(), struct{}{})
		}()
	}
	wg.Wait()

	labels := map[string]string{"tool": "noop"}
	assert.Equal(t, int64(n), h.inst.Counters().Value("mcp_tool_invocations_total", labels))

	exported, ok := h.counterPoint(t, "mcp_tool_invocations_total", labels)
	require.True(t, ok)
	assert.Equal(t, int64(n), exported)
	assert.Len(t, h.spans.GetSpans(), n)
}

func TestWrap_HandlerErrorIsReturnedAndCounted(t *testing.T) {
	h := newHarness(t)
	handlerErr := errors.New("division by zero")

	div := Wrap(h.inst, Descriptor[addArgs]{Name: "div", Kind: KindTool},
		func(context.Context, addArgs) (int, error) { return 0, handlerErr })

	got, err := div(context.Background(), addArgs{A: 1})
	assert.ErrorIs(t, err, handlerErr)
	assert.Zero(t, got)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "division by zero", spans[0].Status.Description)
	assert.Equal(t, StatusError, spanAttributes(spans[0])[SpanAttrStatus])
	require.NotEmpty(t, spans[0].Events, "error should be recorded on the span")

	assert.Equal(t, int64(1), h.inst.Counters().Value("mcp_tool_invocations_total", map[string]string{"tool": "div"}))
	assert.Equal(t, uint64(1), h.histogramCount(t, KindTool, "div", StatusError))
}

func TestWrap_HandlerPanicClosesSpanAndRepanics(t *testing.T) {
	h := newHarness(t)

	boom := Wrap(h.inst, Descriptor[string]{Name: "boom", Kind: KindPrompt},
		func(context.Context, string) (string, error) { panic("kaboom") })

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = boom(context.Background(), "x")
	})

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "prompt.boom", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Status.Description, ErrHandlerPanic.Error())

	assert.Equal(t, int64(1), h.inst.Counters().Value("mcp_prompt_invocations_total", map[string]string{"prompt": "boom"}))
}

func TestWrap_HandlerGoexitClosesSpanWithoutPanicking(t *testing.T) {
	h := newHarness(t)

	exit := Wrap(h.inst, Descriptor[string]{Name: "exit", Kind: KindTool},
		func(context.Context, string) (string, error) {
			runtime.Goexit()
			return "unreachable", nil
		})

	var recovered any
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { recovered = recover() }()
		_, _ = exit(context.Background(), "x")
	}()
	<-done

	assert.Nil(t, recovered)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.exit", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, ErrHandlerGoexit.Error(), spans[0].Status.Description)

	assert.Equal(t, int64(1), h.inst.Counters().Value("mcp_tool_invocations_total", map[string]string{"tool": "exit"}))
}

func TestWrap_SpansAreAlwaysRoots(t *testing.T) {
	h := newHarness(t)

	outerTP := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = outerTP.Shutdown(context.Background()) })
	ctx, outer := outerTP.Tracer("test").Start(context.Background(), "request")
	defer outer.End()

	inner := Wrap(h.inst, Descriptor[string]{Name: "inner", Kind: KindTool},
		func(_ context.Context, s string) (string, error) { return s, nil })

	outerHandler := Wrap(h.inst, Descriptor[string]{Name: "outer", Kind: KindTool},
		func(ctx context.Context, s string) (string, error) {
			return inner(ctx, s)
		})

	_, err := outerHandler(ctx, "x")
	require.NoError(t, err)
	_, err = inner(ctx, "y")
	require.NoError(t, err)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 3)

	traceIDs := make(map[trace.TraceID]bool)
	for _, s := range spans {
		assert.False(t, s.Parent.IsValid(), "span %s must not have a parent", s.Name)
		assert.NotEqual(t, outer.SpanContext().TraceID(), s.SpanContext.TraceID())
		traceIDs[s.SpanContext.TraceID()] = true
	}
	assert.Len(t, traceIDs, 3, "every invocation starts its own trace")
}

func TestWrap_HandlerCanAddResultAttributes(t *testing.T) {
	h := newHarness(t)

	add := Wrap(h.inst, Descriptor[addArgs]{Name: "add", Kind: KindTool, Extractor: addExtractor},
		func(ctx context.Context, req addArgs) (int, error) {
			sum := req.A + req.B
			if span, ok := ScopedSpanFromContext(ctx); ok {
				span.SetAttribute("result", sum)
			}
			return sum, nil
		})

	_, err := add(context.Background(), addArgs{A: 4, B: 5})
	require.NoError(t, err)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, int64(9), spanAttributes(spans[0])["result"])
}

func TestWrap_ResultErrorMarksSpanWithoutChangingResult(t *testing.T) {
	h := newHarness(t)

	type result struct{ IsError bool }

	tool := Wrap(h.inst, Descriptor[string]{Name: "flaky", Kind: KindTool},
		func(context.Context, string) (*result, error) { return &result{IsError: true}, nil },
		WithResultError(func(r *result) error {
			if r != nil && r.IsError {
				return errors.New("tool reported an error result")
			}
			return nil
		}))

	got, err := tool(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, got.IsError)

	spans := h.spans.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, uint64(1), h.histogramCount(t, KindTool, "flaky", StatusError))
}

func TestWrap_RecordsDurationWithInjectedClock(t *testing.T) {
	h := newHarness(t, WithAuditLogger(NewAuditLogger(nil)))

	slow := Wrap(h.inst, Descriptor[string]{Name: "pymcp://welcome", Kind: KindResource},
		func(context.Context, string) (string, error) {
			h.clock.Advance(250 * time.Millisecond)
			return "welcome", nil
		})

	_, err := slow(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), h.histogramCount(t, KindResource, "pymcp://welcome", StatusSuccess))
	assert.Equal(t, int64(1), h.inst.Counters().Value("mcp_resource_reads_total", map[string]string{"resource": "pymcp://welcome"}))
}

func TestWrap_AuditLogLine(t *testing.T) {
	h := newHarness(t)
	// Audit logger shares the harness buffer so the line can be inspected.
	h.inst.audit = NewAuditLogger(h.inst.logger)

	greet := Wrap(h.inst, Descriptor[string]{Name: "greeting", Kind: KindPrompt},
		func(context.Context, string) (string, error) {
			h.clock.Advance(2 * time.Second)
			return "hello", nil
		})

	_, err := greet(context.Background(), "Ada")
	require.NoError(t, err)

	line := findLogLine(t, h.logs.String(), "handler_executed")
	assert.Equal(t, "prompt", line.Get("kind").String())
	assert.Equal(t, "greeting", line.Get("name").String())
	assert.Equal(t, "prompt.greeting", line.Get("span").String())
	assert.Equal(t, int64(2*time.Second), line.Get("duration").Int())
	assert.True(t, line.Get("success").Bool())
	assert.Len(t, line.Get("trace_id").String(), 32)
}

func TestWrap_NilInstrumenterIsPassThrough(t *testing.T) {
	calls := 0
	handler := Handler[int, int](func(_ context.Context, n int) (int, error) {
		calls++
		return n * 2, nil
	})

	wrapped := Wrap[int, int](nil, Descriptor[int]{Name: "double", Kind: KindTool}, handler)

	got, err := wrapped(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestWrap_NoOpProviders(t *testing.T) {
	inst, err := NewInstrumenter(nil, nil)
	require.NoError(t, err)

	add := Wrap(inst, Descriptor[addArgs]{Name: "add", Kind: KindTool, Extractor: addExtractor}, addHandler)

	got, err := add(context.Background(), addArgs{A: 2, B: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, got)
	assert.Equal(t, int64(1), inst.Counters().Value("mcp_tool_invocations_total", map[string]string{"tool": "add"}))
}

func TestKind_Counters(t *testing.T) {
	tests := []struct {
		kind    Kind
		counter string
		label   string
	}{
		{KindTool, "mcp_tool_invocations_total", "tool"},
		{KindResource, "mcp_resource_reads_total", "resource"},
		{KindPrompt, "mcp_prompt_invocations_total", "prompt"},
		{Kind("sampling"), "mcp_handler_invocations_total", "handler"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.counter, tt.kind.CounterName())
			assert.Equal(t, map[string]string{tt.label: "x"}, tt.kind.CounterLabels("x"))
		})
	}
}

func TestDescriptor_ResolvedSpanName(t *testing.T) {
	assert.Equal(t, "tool.add", Descriptor[int]{Name: "add", Kind: KindTool}.ResolvedSpanName())
	assert.Equal(t, "custom", Descriptor[int]{Name: "add", Kind: KindTool, SpanName: "custom"}.ResolvedSpanName())
}

// findLogLine returns the first JSON log line with the given message.
func findLogLine(t *testing.T, logs, msg string) gjson.Result {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		if gjson.Get(line, "msg").String() == msg {
			return gjson.Parse(line)
		}
	}
	t.Fatalf("no log line with msg %q in:\n%s", msg, logs)
	return gjson.Result{}
}
