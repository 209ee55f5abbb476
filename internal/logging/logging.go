// Package logging builds the process logger. Local and dev environments get
// colourised tint output on stderr; everything else emits JSON on stdout so
// log shippers can parse it.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"redelivery/internal/types"
)

// New creates a *slog.Logger for the given environment and level name.
// Unknown level names fall back to info.
func New(env, level string) *slog.Logger {
	if env == "local" || env == "dev" {
		return newWithWriter(os.Stderr, env, level)
	}
	return newWithWriter(os.Stdout, env, level)
}

func newWithWriter(w io.Writer, env, level string) *slog.Logger {
	lvl := ParseLevel(level)
	if env == "local" || env == "dev" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseLevel maps debug/info/warn/error to a slog.Level.
func ParseLevel(level string) slog.Level {
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

// Adapter wraps *slog.Logger to implement types.Logger. slog.Logger satisfies
// Info, Error and Warn but its With returns *slog.Logger.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter wraps l. A nil l uses slog.Default().
func NewAdapter(l *slog.Logger) *Adapter {
	if l == nil {
		l = slog.Default()
	}
	return &Adapter{logger: l}
}

func (a *Adapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *Adapter) With(args ...any) types.Logger {
	return &Adapter{logger: a.logger.With(args...)}
}

// Slog returns the wrapped logger.
func (a *Adapter) Slog() *slog.Logger { return a.logger }

var _ types.Logger = (*Adapter)(nil)
