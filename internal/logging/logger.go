// Package logging holds the process-wide structured logger. Every pipeline
// component logs JSON to stdout through a child logger tagged with its name.
package logging

import (
	"log/slog"
	"os"
)

// Logger is the root logger shared by all components.
var Logger *slog.Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	Logger = slog.New(handler)
}

// WithComponent returns a child logger whose records carry the component
// name, so one process-wide stream stays filterable per pipeline stage.
func WithComponent(component string) *slog.Logger {
	return Logger.With("component", component)
}
