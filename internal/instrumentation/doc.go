// Package instrumentation wraps MCP tool, resource and prompt handlers with
// OpenTelemetry tracing and invocation counting.
//
// Every wrapped invocation:
//   - opens a new root span (never a child of the caller's span)
//   - applies best-effort attributes derived from the request
//   - calls the handler with the original request
//   - increments the invocation counter for the handler's kind and name
//   - closes the span, with error status if the handler failed
//   - returns the handler's result and error unchanged
//
// # Metrics
//
// Invocation counters, created lazily by CounterRegistry:
//   - mcp_tool_invocations_total{tool}
//   - mcp_resource_reads_total{resource}
//   - mcp_prompt_invocations_total{prompt}
//
// Supporting instruments:
//   - mcp_handler_duration_seconds{kind,name,status}: handler execution time
//   - mcp_handler_errors_total{kind,name}: failed invocations
//   - mcp_active_sessions: connected MCP client sessions
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 1.0)
//   - OTEL_SERVICE_NAME: Service name (default: mcpdemo)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_LEVEL: per-invocation audit log
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	add := instrumentation.Wrap(provider.Instrumenter(),
//		instrumentation.Descriptor[AddRequest]{
//			Name:      "add",
//			Kind:      instrumentation.KindTool,
//			Extractor: addAttributes,
//		},
//		addHandler)
//
//	res, err := add(ctx, AddRequest{A: 2, B: 3}) // span "tool.add"
package instrumentation
