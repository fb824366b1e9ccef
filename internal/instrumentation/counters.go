package instrumentation

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"

	"github.com/teemow/mcpdemo/internal/logging"
)

// DefaultCounterUnit is the unit used for counters created without Describe.
const DefaultCounterUnit = "{invocation}"

// counterSpec is the identity of a counter beyond its name.
type counterSpec struct {
	unit        string
	description string
}

// CounterRegistry holds process-wide named counters, each partitioned by a
// label set. Counters are created on first use; there is no registration
// step. All methods are safe for concurrent use.
//
// Every increment is forwarded to an OpenTelemetry Int64Counter for export
// and mirrored in a local tally so current values can be read back.
type CounterRegistry struct {
	meter  metric.Meter
	logger *slog.Logger

	mu          sync.RWMutex
	specs       map[string]counterSpec
	instruments map[string]metric.Int64Counter
	tallies     map[string]*atomic.Int64
}

// NewCounterRegistry creates a counter registry backed by the given meter.
// A nil logger falls back to slog.Default().
func NewCounterRegistry(meter metric.Meter, logger *slog.Logger) *CounterRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CounterRegistry{
		meter:       meter,
		logger:      logger,
		specs:       make(map[string]counterSpec),
		instruments: make(map[string]metric.Int64Counter),
		tallies:     make(map[string]*atomic.Int64),
	}
}

// Describe records the unit and description used when the counter is first
// created. It has no effect once the counter exists.
func (r *CounterRegistry) Describe(name, unit, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instruments[name]; exists {
		return
	}
	r.specs[name] = counterSpec{unit: unit, description: description}
}

// Increment adds 1 to the counter identified by name and labels.
func (r *CounterRegistry) Increment(ctx context.Context, name string, labels map[string]string) {
	instrument := r.instrument(name)
	r.tally(name, labels).Inc()

	if instrument != nil {
		instrument.Add(ctx, 1, metric.WithAttributes(labelAttributes(labels)...))
	}
}

// Value returns the number of increments recorded for name and labels.
func (r *CounterRegistry) Value(name string, labels map[string]string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tallies[seriesKey(name, labels)]; ok {
		return t.Load()
	}
	return 0
}

// Totals returns the summed value of every counter across all label sets.
func (r *CounterRegistry) Totals() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[string]int64, len(r.instruments))
	for key, t := range r.tallies {
		name, _, _ := strings.Cut(key, "{")
		totals[name] += t.Load()
	}
	return totals
}

func (r *CounterRegistry) instrument(name string) metric.Int64Counter {
	r.mu.RLock()
	c, ok := r.instruments[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.instruments[name]; ok {
		return c
	}

	spec, ok := r.specs[name]
	if !ok || spec.unit == "" {
		spec.unit = DefaultCounterUnit
	}

	opts := []metric.Int64CounterOption{metric.WithUnit(spec.unit)}
	if spec.description != "" {
		opts = append(opts, metric.WithDescription(spec.description))
	}

	c, err := r.meter.Int64Counter(name, opts...)
	if err != nil {
		// The SDK still hands back a usable instrument alongside most errors.
		r.logger.Warn("failed to create counter",
			slog.String("counter", name),
			logging.Err(err))
	}
	r.instruments[name] = c
	return c
}

func (r *CounterRegistry) tally(name string, labels map[string]string) *atomic.Int64 {
	key := seriesKey(name, labels)

	r.mu.RLock()
	t, ok := r.tallies[key]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tallies[key]; ok {
		return t
	}
	t = atomic.NewInt64(0)
	r.tallies[key] = t
	return t
}

// seriesKey renders name and labels in Prometheus exposition order,
// e.g. mcp_tool_invocations_total{tool="add"}. Values are quoted so
// distinct label sets never share a key.
func seriesKey(name string, labels map[string]string) string {
	keys := sortedKeys(labels)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(labels[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func labelAttributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for _, k := range sortedKeys(labels) {
		attrs = append(attrs, attribute.String(k, labels[k]))
	}
	return attrs
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
