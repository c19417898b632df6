package logger

import (
	"log"
	"log/slog"
)

// New returns a stdlib logger that writes through base at level, tagged
// with the component. It serves libraries that only accept *log.Logger.
func New(base *slog.Logger, component string, level slog.Level) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), level)
}
