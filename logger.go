package wireframe

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// slogWith is the *slog.Logger-shaped subset of the With method. It lets
// withScope hand a scoped *slog.Logger straight back for the common case
// instead of wrapping it, so slog's own field-accumulation semantics (and
// its handler-level dedup/formatting) still apply.
type slogWith interface {
	With(args ...any) *slog.Logger
}

// withScope returns a Logger that attaches args to every subsequent log
// call, so a connection or subsystem (Controller, Writer, Emitter) logs
// with its identifying fields (e.g. remote_addr) already attached instead
// of every call site repeating them. Connections come and go independently
// of each other, so each gets its own scoped Logger rather than a single
// package-wide one.
func withScope(logger Logger, args ...any) Logger {
	if len(args) == 0 {
		return logger
	}
	if sl, ok := logger.(slogWith); ok {
		return sl.With(args...)
	}
	return &scopedLogger{base: logger, args: args}
}

// scopedLogger prepends a fixed set of key-value pairs ahead of each call's
// own args, for Logger implementations that don't expose a *slog.Logger-
// shaped With.
type scopedLogger struct {
	base Logger
	args []any
}

func (s *scopedLogger) merge(args []any) []any {
	out := make([]any, 0, len(s.args)+len(args))
	out = append(out, s.args...)
	out = append(out, args...)
	return out
}

func (s *scopedLogger) Debug(msg string, args ...any) { s.base.Debug(msg, s.merge(args)...) }
func (s *scopedLogger) Info(msg string, args ...any)  { s.base.Info(msg, s.merge(args)...) }
func (s *scopedLogger) Warn(msg string, args ...any)  { s.base.Warn(msg, s.merge(args)...) }
func (s *scopedLogger) Error(msg string, args ...any) { s.base.Error(msg, s.merge(args)...) }
