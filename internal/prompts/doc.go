// Package prompts provides MCP prompts for the demo server.
//
// Available prompts:
//   - greeting: ask the assistant to greet a user by name
package prompts
