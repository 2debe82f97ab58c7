package app

import (
	"io"
	"log/slog"
	"os"

	"recall254/go-core/internal/platform/privacylog"
)

// NewLogger builds the process logger. Every handler is wrapped by the
// privacy sanitizer so passphrases and signer identifiers never reach output.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(privacylog.WrapHandler(h))
}

func DefaultLogger() *slog.Logger {
	return NewLogger(os.Stderr, slog.LevelInfo, "json")
}
