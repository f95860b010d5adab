// Package obslog wires log/slog for the daemon, the way the teacher's
// util/logutil.go configures it for the sqldef CLIs.
package obslog

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger based on the LOG_LEVEL
// environment variable. Supported levels: debug, info, warn, error.
func Init() {
	level := slog.LevelInfo
	if raw, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch strings.ToLower(raw) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// Sub returns a logger scoped to a worker or component name, the
// convention every worker and the orchestrator use to tag their entries.
func Sub(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
