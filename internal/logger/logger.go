// Package logger provides structured logging setup for Agentify.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/peerjakobsen/agentify-release/internal/config"
)

const (
	asyncChanSize = 1024
	asyncWorkers  = 1 // single worker keeps record order
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stderr with a "service" attribute on every record;
// stdout is reserved for the event stream. The returned Closer flushes
// buffered records when async mode is enabled.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncChanSize, asyncWorkers)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
