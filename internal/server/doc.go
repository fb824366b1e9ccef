// Package server provides the MCP server context, session tracking, health
// checks and the HTTP servers for the mcpdemo application.
//
// # Key Components
//
// ServerContext ties together the instrumentation provider, the handler
// registry and the session tracker for the lifetime of the process.
//
// SessionTracker follows MCP client sessions through mcp-go server hooks
// and keeps the mcp_active_sessions gauge in step with them.
//
// HTTPServer serves the MCP endpoint over streamable HTTP. Each request gets
// an otelhttp server span, while every handler invocation opens its own
// root span through the instrumentation layer.
//
// MetricsServer exposes the Prometheus scrape endpoint on a dedicated port.
//
// HealthChecker backs the /healthz, /readyz and /healthz/detailed probes.
package server
