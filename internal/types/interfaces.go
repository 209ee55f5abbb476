package types

// Logger defines the structured logging interface used throughout the
// subsystem. *slog.Logger satisfies the first three methods; binaries wrap it
// with logging.Adapter so With returns a Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger discards everything. Used when a component is constructed without
// a logger.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}

// With returns the receiver.
func (n NopLogger) With(...any) Logger { return n }
