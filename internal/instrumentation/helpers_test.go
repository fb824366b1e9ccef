package instrumentation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

// telemetryHarness wires an Instrumenter to in-memory span and metric sinks.
type telemetryHarness struct {
	inst   *Instrumenter
	spans  *tracetest.InMemoryExporter
	reader *sdkmetric.ManualReader
	clock  fakeClock
	logs   *bytes.Buffer
}

func newHarness(t *testing.T, opts ...InstrumenterOption) *telemetryHarness {
	t.Helper()

	h := &telemetryHarness{
		spans:  tracetest.NewInMemoryExporter(),
		reader: sdkmetric.NewManualReader(),
		clock:  clockz.NewFakeClock(),
		logs:   &bytes.Buffer{},
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(h.spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	base := []InstrumenterOption{WithClock(h.clock), WithLogger(logger)}
	inst, err := NewInstrumenter(tp, mp, append(base, opts...)...)
	require.NoError(t, err)
	h.inst = inst

	return h
}

// counterPoint returns the exported value of the named counter for labels.
func (h *telemetryHarness) counterPoint(t *testing.T, name string, labels map[string]string) (int64, bool) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))

	want := attribute.NewSet(labelAttributes(labels)...)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					return dp.Value, true
				}
			}
		}
	}
	return 0, false
}

// histogramCount returns the number of recorded durations for the handler.
func (h *telemetryHarness) histogramCount(t *testing.T, kind Kind, name, status string) uint64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "mcp_handler_duration_seconds" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				continue
			}
			for _, dp := range hist.DataPoints {
				k, _ := dp.Attributes.Value(attrKind)
				n, _ := dp.Attributes.Value(attrName)
				s, _ := dp.Attributes.Value(attrStatus)
				if k.AsString() == string(kind) && n.AsString() == name && s.AsString() == status {
					return dp.Count
				}
			}
		}
	}
	return 0
}

func spanAttributes(span tracetest.SpanStub) map[string]any {
	attrs := make(map[string]any, len(span.Attributes))
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}
