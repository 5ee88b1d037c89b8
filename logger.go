package mastobot

// Logger defines the interface for runtime logging.
// The runtime uses structured logging with key-value pairs so that every
// lifecycle transition, failure and scheduled invocation carries the unit
// kind and name it belongs to.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// *slog.Logger satisfies this interface directly.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// unitLogger prefixes every record with the unit it belongs to.
type unitLogger struct {
	base Logger
	args []any
}

// UnitLogger returns a Logger that tags every record with the unit kind and name.
func UnitLogger(base Logger, kind Kind, name string) Logger {
	if base == nil {
		base = nopLogger{}
	}
	return &unitLogger{base: base, args: []any{"kind", kind.String(), "unit", name}}
}

func (l *unitLogger) with(args []any) []any {
	out := make([]any, 0, len(l.args)+len(args))
	out = append(out, l.args...)
	return append(out, args...)
}

func (l *unitLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.with(args)...) }
func (l *unitLogger) Error(msg string, args ...any) { l.base.Error(msg, l.with(args)...) }
func (l *unitLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.with(args)...) }
func (l *unitLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.with(args)...) }

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
