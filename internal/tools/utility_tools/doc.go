// Package utility_tools provides the echo, add and now MCP tools.
//
// Each tool is registered through the instrumentation registry, so every
// call opens its own root span and increments mcp_tool_invocations_total.
// Extractors copy request arguments onto the span; handlers add result
// attributes through instrumentation.ScopedSpanFromContext.
//
// Available tools:
//   - echo: Echo back the provided message
//   - add: Add two numbers and return the sum
//   - now: Return the current UTC time as ISO 8601 and epoch seconds
package utility_tools
