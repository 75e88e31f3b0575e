// Package logadapter bridges the process-wide slog logger to the *log.Logger
// that the internal packages accept.
package logadapter

import (
	"context"
	"log"
	"log/slog"
	"strings"
)

// New returns a *log.Logger whose lines are emitted as records on base.
// A non-empty component is attached as a "component" attribute.
func New(base *slog.Logger, component string) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	if component != "" {
		base = base.With("component", component)
	}
	return log.New(&writer{logger: base}, "", 0)
}

type writer struct {
	logger *slog.Logger
}

// Write trims the trailing newline and picks a level from the conventional
// "<component>: error" / "warn" wording used across the service.
func (w *writer) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	w.logger.Log(context.Background(), levelOf(msg), msg)
	return len(p), nil
}

func levelOf(msg string) slog.Level {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "panic") || strings.Contains(lower, " error") || strings.Contains(lower, " failed"):
		return slog.LevelError
	case strings.Contains(lower, "warn") || strings.Contains(lower, "invalid"):
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
