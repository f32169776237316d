package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
)

type contextKey struct{}

var (
	loggerKey       = contextKey{}
	defaultLogger   *slog.Logger
	defaultLoggerMu sync.RWMutex
)

// Format is the log output format
type Format string

const (
	// FormatConsole is colored, human readable output
	FormatConsole Format = "console"
	// FormatJSON is one JSON object per line, for log collectors
	FormatJSON Format = "json"
)

func init() {
	defaultLogger = New("info", os.Stderr)
}

// parseLevel converts a string level to slog.Level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		defaultLogger.Warn("invalid log level", "level", level)
		return slog.LevelInfo
	}
}

// New creates a console logger with the specified level string.
// Accepts: "debug", "info", "warn", "warning", "error" (case-insensitive).
// Output goes to stderr when w is nil; stdout is kept for command output and
// the MCP stdio transport.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	handler := clog.New(
		clog.WithWriter(w),
		clog.WithLevel(parseLevel(level)),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	)

	return slog.New(handler)
}

// NewWithFormat creates a logger in the given format
func NewWithFormat(level string, format Format, w io.Writer) (*slog.Logger, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatConsole, "":
		return New(level, w), nil
	case FormatJSON:
		if w == nil {
			w = os.Stderr
		}
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       parseLevel(level),
			ReplaceAttr: expandError,
		})), nil
	default:
		return nil, goerr.New("invalid log format",
			goerr.V("format", format),
			goerr.V("supported", []Format{FormatConsole, FormatJSON}))
	}
}

// expandError renders an error wrapping a goerr.Error with the message, values
// and stack trace of the goerr.Error. A bare *goerr.Error reaches the handler
// already expanded through slog.LogValuer.
func expandError(_ []string, a slog.Attr) slog.Attr {
	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}
	var goErr *goerr.Error
	if !errors.As(err, &goErr) {
		return a
	}
	return slog.Group(a.Key,
		slog.String("message", err.Error()),
		slog.Any("cause", goErr),
	)
}

// Default returns the default logger
func Default() *slog.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *slog.Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

// With returns a new context with the logger attached
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// From retrieves the logger from the context.
// If no logger is found, it returns the default logger.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
