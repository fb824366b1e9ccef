package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrKind   = "kind"
	attrName   = "name"
	attrStatus = "status"
)

// Metrics records per-invocation timing and failure metrics alongside the
// invocation counters kept by CounterRegistry.
type Metrics struct {
	handlerDuration metric.Float64Histogram
	handlerErrors   metric.Int64Counter
	activeSessions  metric.Int64UpDownCounter
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.handlerDuration, err = meter.Float64Histogram(
		"mcp_handler_duration_seconds",
		metric.WithDescription("MCP handler execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_handler_duration_seconds histogram: %w", err)
	}

	m.handlerErrors, err = meter.Int64Counter(
		"mcp_handler_errors_total",
		metric.WithDescription("Total number of failed MCP handler invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_handler_errors_total counter: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"mcp_active_sessions",
		metric.WithDescription("Number of active MCP client sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_active_sessions gauge: %w", err)
	}

	return m, nil
}

// RecordInvocation records the duration of a handler invocation and, when
// status is StatusError, increments the error counter.
func (m *Metrics) RecordInvocation(ctx context.Context, kind Kind, name, status string, duration time.Duration) {
	if m == nil || m.handlerDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrKind, string(kind)),
		attribute.String(attrName, name),
		attribute.String(attrStatus, status),
	)

	m.handlerDuration.Record(ctx, duration.Seconds(), attrs)
	if status == StatusError && m.handlerErrors != nil {
		m.handlerErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrKind, string(kind)),
			attribute.String(attrName, name),
		))
	}
}

// IncrementActiveSessions increments the active sessions gauge.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions gauge.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
