package telemetry

import (
	"io"
	"log/slog"

	"github.com/loqalabs/reed/internal/config"
)

// NewLogger builds the process logger. Diagnostics go to w (stderr in the
// CLI) so they never mix with spoken-text status lines.
func NewLogger(cfg config.TelemetryConfig, w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
