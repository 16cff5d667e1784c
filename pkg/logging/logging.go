// Package logging provides structured JSON logging for keycast components.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level represents the logging level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger wraps slog.Logger with component context
type Logger struct {
	*slog.Logger
	component string
}

// New creates a structured logger writing JSON records to w
func New(w io.Writer, component string, level Level) *Logger {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slogLevel,
	})

	return &Logger{
		Logger:    slog.New(handler),
		component: component,
	}
}

// NewLogger creates a structured logger for a keycast component.
// Log records go to stderr so they never interleave with report output.
func NewLogger(component string, level Level) *Logger {
	return New(os.Stderr, component, level)
}

// WithComponent creates a logger scoped to another component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger,
		component: component,
	}
}

// Debug logs a debug message with component context
func (l *Logger) Debug(msg string, args ...any) {
	l.Logger.Debug(msg, append([]any{"component", l.component}, args...)...)
}

// Info logs an info message with component context
func (l *Logger) Info(msg string, args ...any) {
	l.Logger.Info(msg, append([]any{"component", l.component}, args...)...)
}

// Warn logs a warning message with component context
func (l *Logger) Warn(msg string, args ...any) {
	l.Logger.Warn(msg, append([]any{"component", l.component}, args...)...)
}

// Error logs an error message with component context
func (l *Logger) Error(msg string, args ...any) {
	l.Logger.Error(msg, append([]any{"component", l.component}, args...)...)
}

// LogRunStart logs engine run startup information
func (l *Logger) LogRunStart(mode string, windowTitle string) {
	l.Info("run starting",
		"mode", mode,
		"window_title", windowTitle,
		"pid", os.Getpid())
}

// LogKeySend logs a key injection event
func (l *Logger) LogKeySend(key string, source string, ok bool) {
	l.Info("key send",
		"key", key,
		"source", source,
		"ok", ok)
}

// LogError logs error events with context
func (l *Logger) LogError(operation string, err error, context ...any) {
	args := append([]any{"operation", operation, "error", err.Error()}, context...)
	l.Error("operation failed", args...)
}
