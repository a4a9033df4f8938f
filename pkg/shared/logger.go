package helpers

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a new Logger with structured JSON logging using slog.
// logLevel can be "debug", "info", "warn", or "error"; anything else means info.
func NewLogger(serviceName, logLevel string) *slog.Logger {
	return newLogger(os.Stdout, serviceName, logLevel)
}

func newLogger(w io.Writer, serviceName, logLevel string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With("service", serviceName)
}
