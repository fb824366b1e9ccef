// Package resources provides MCP resources for the demo server.
//
// Available resources:
//   - pymcp://welcome: plain-text welcome message listing the available tools
//   - pymcp://handlers: JSON listing of every instrumented handler
package resources
