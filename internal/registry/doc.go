// Package registry registers MCP tools, resources and prompts with an
// mcp-go server. Every handler is wrapped by the instrumentation package
// at registration time, so the server only ever dispatches to instrumented
// callables. The registry also keeps an index of the wrapped handlers for
// direct dispatch and for health reporting.
package registry
