// Package cmd implements the command-line interface for mcpdemo.
//
// This package provides the following commands:
//   - serve: Start the MCP server over stdio or streamable HTTP
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP handlers
//
// The serve command is the default command when no subcommand is specified.
package cmd
