package helpers

import (
	"io"
	"log/slog"
)

// CloseOrLog closes closer and logs a failure instead of returning it, for use with defer.
func CloseOrLog(closer io.Closer) {
	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource", "error", err)
	}
}
