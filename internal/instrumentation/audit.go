package instrumentation

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Invocation captures one handler invocation for audit logging.
type Invocation struct {
	Kind     Kind
	Name     string
	SpanName string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// Status returns "success" or "error" based on the Success field.
func (inv *Invocation) Status() string {
	if inv.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging.
func (inv *Invocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("kind", string(inv.Kind)),
		slog.String("name", inv.Name),
		slog.String("span", inv.SpanName),
		slog.Duration("duration", inv.Duration),
		slog.Bool("success", inv.Success),
	}

	if inv.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", inv.TraceID))
	}
	if inv.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", inv.SpanID))
	}
	if inv.Error != "" {
		attrs = append(attrs, slog.String("error", inv.Error))
	}

	return attrs
}

// AuditLogger writes one structured log line per handler invocation.
type AuditLogger struct {
	logger  *slog.Logger
	level   slog.Level
	enabled bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true, LogLevel: "info"})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:  logger,
		level:   parseLevel(config.LogLevel),
		enabled: config.Enabled,
	}
}

// SetEnabled sets whether audit logging is enabled.
func (al *AuditLogger) SetEnabled(enabled bool) {
	al.enabled = enabled
}

// LogInvocation logs a completed invocation. Failed invocations are always
// logged at WARN.
func (al *AuditLogger) LogInvocation(ctx context.Context, inv *Invocation) {
	if al == nil || !al.enabled {
		return
	}

	if inv.Success {
		al.logger.LogAttrs(ctx, al.level, "handler_executed", inv.LogAttrs()...)
	} else {
		al.logger.LogAttrs(ctx, slog.LevelWarn, "handler_failed", inv.LogAttrs()...)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
