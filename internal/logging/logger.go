package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON slog logger at the provided level, tagged with the
// service name and environment. An invalid level falls back to info.
func New(level, service, env string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, service, env)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, level, service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(handler)
	if service != "" {
		logger = logger.With(slog.String("service", service))
	}
	if env != "" {
		logger = logger.With(slog.String("env", env))
	}
	return logger
}

// ParseLevel maps debug, info, warn and error to a slog level.
func ParseLevel(level string) *slog.LevelVar {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}
	return lvl
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
