package instrumentation

import (
	"fmt"
	"log/slog"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// MeterName is the instrumentation scope for handler metrics.
const MeterName = TracerName

// Instrumenter carries the telemetry state shared by every wrapped handler.
// It is built once at process start and passed to Wrap explicitly.
type Instrumenter struct {
	spans    *SpanFactory
	counters *CounterRegistry
	metrics  *Metrics
	clock    clockz.Clock
	logger   *slog.Logger
	audit    *AuditLogger
}

// InstrumenterOption configures an Instrumenter.
type InstrumenterOption func(*Instrumenter)

// WithLogger sets the logger used for extraction warnings.
func WithLogger(logger *slog.Logger) InstrumenterOption {
	return func(i *Instrumenter) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithClock sets the clock used to time invocations.
func WithClock(clock clockz.Clock) InstrumenterOption {
	return func(i *Instrumenter) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// WithAuditLogger enables per-invocation audit logging.
func WithAuditLogger(audit *AuditLogger) InstrumenterOption {
	return func(i *Instrumenter) {
		i.audit = audit
	}
}

// NewInstrumenter creates an Instrumenter from explicit tracer and meter
// providers. Nil providers are replaced with no-op implementations; counter
// values are still tallied locally.
func NewInstrumenter(tp trace.TracerProvider, mp metric.MeterProvider, opts ...InstrumenterOption) (*Instrumenter, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}

	i := &Instrumenter{
		clock:  clockz.RealClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}

	meter := mp.Meter(MeterName)

	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler metrics: %w", err)
	}

	i.spans = NewSpanFactory(tp)
	i.metrics = metrics
	i.counters = NewCounterRegistry(meter, i.logger)

	for _, k := range []Kind{KindTool, KindResource, KindPrompt} {
		i.counters.Describe(k.CounterName(), DefaultCounterUnit, k.counterDescription())
	}

	return i, nil
}

// Counters returns the counter registry.
func (i *Instrumenter) Counters() *CounterRegistry {
	return i.counters
}

// Spans returns the span factory.
func (i *Instrumenter) Spans() *SpanFactory {
	return i.spans
}

// Metrics returns the duration and error metrics.
func (i *Instrumenter) Metrics() *Metrics {
	return i.metrics
}

// Clock returns the clock used for timing.
func (i *Instrumenter) Clock() clockz.Clock {
	return i.clock
}

// Logger returns the instrumenter's logger.
func (i *Instrumenter) Logger() *slog.Logger {
	return i.logger
}
