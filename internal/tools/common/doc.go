// Package common provides shared utilities for MCP tool implementations:
// argument lookup helpers and JSON tool results.
package common
