// Package logging provides structured logging utilities for the mcpdemo server.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Consistent attribute naming across the codebase
//   - Logger adapter for libraries that expect printf-style or level methods
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithComponent(slog.Default(), "registry")
//	logger.Info("tool registered",
//	    logging.Tool("add"),
//	    logging.Span("tool.add"))
//
// Attach errors without worrying about nil:
//
//	logger.Warn("attribute extraction failed", logging.Err(err))
package logging
