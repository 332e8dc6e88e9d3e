package logging

import (
	"io"
	"log/slog"
	"os"

	"aegisflux/agents/hids/internal/config"
)

// Logger provides structured logging with systemd integration
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger
func NewLogger(cfg *config.Config) *Logger {
	var output io.Writer = os.Stdout
	addSource := true

	if isSystemd() {
		// journald picks up stderr and already records the caller
		output = os.Stderr
		addSource = false
	}

	return New(output, cfg.LogLevel, addSource).With(
		"host_id", cfg.HostID,
		"service", "hids",
	)
}

// New builds a JSON logger on an arbitrary writer
func New(w io.Writer, level string, addSource bool) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: addSource,
	})
	return &Logger{Logger: slog.New(handler).With("component", "agent")}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// With returns a Logger carrying additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// parseLogLevel parses log level string
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isSystemd checks if running under systemd
func isSystemd() bool {
	if os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getenv("NOTIFY_SOCKET") != "" {
		return true
	}
	return os.Getpid() == 1
}

// LogSystemEvent logs agent lifecycle events
func (l *Logger) LogSystemEvent(event string, additional ...any) {
	args := []any{"event", event}
	args = append(args, additional...)

	switch event {
	case "agent_started":
		l.Info("Agent started", args...)
	case "agent_stopped":
		l.Info("Agent stopped", args...)
	case "shutdown_signal":
		l.Info("Shutdown signal received", args...)
	case "config_loaded":
		l.Info("Configuration loaded", args...)
	case "http_server_started":
		l.Info("HTTP server started", args...)
	case "http_server_stopped":
		l.Info("HTTP server stopped", args...)
	case "privilege_check_failed":
		l.Error("Insufficient privileges", args...)
	default:
		l.Info("System event", args...)
	}
}

// LogSourceEvent logs event source lifecycle and failures
func (l *Logger) LogSourceEvent(source string, event string, additional ...any) {
	args := []any{"source", source, "event", event}
	args = append(args, additional...)

	switch event {
	case "source_started":
		l.Info("Event source started", args...)
	case "source_stopped":
		l.Info("Event source stopped", args...)
	case "source_unavailable":
		l.Warn("Event source unavailable", args...)
	case "source_error":
		l.Warn("Event source error", args...)
	case "item_failed":
		l.Error("Event analysis failed", args...)
	default:
		l.Debug("Event source event", args...)
	}
}

// LogAlertEvent logs alert dispatch outcomes
func (l *Logger) LogAlertEvent(event string, additional ...any) {
	args := []any{"event", event}
	args = append(args, additional...)

	switch event {
	case "alert_dispatched":
		l.Info("Alert dispatched", args...)
	case "alert_dropped":
		l.Warn("Alert dropped after shutdown", args...)
	case "alert_overflow":
		l.Warn("Alert queue full, recorded to durable log only", args...)
	case "channel_failed":
		l.Debug("Alert channel failed", args...)
	default:
		l.Info("Alert event", args...)
	}
}

// LogNATSEvent logs NATS-related events
func (l *Logger) LogNATSEvent(event string, additional ...any) {
	args := []any{"event", event}
	args = append(args, additional...)

	switch event {
	case "nats_connected":
		l.Info("NATS connected", args...)
	case "nats_disconnected":
		l.Warn("NATS disconnected", args...)
	case "nats_error":
		l.Error("NATS error", args...)
	case "alert_forwarded":
		l.Debug("Alert forwarded", args...)
	default:
		l.Info("NATS event", args...)
	}
}

// WithComponent creates a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component)}
}
