package logger

import (
	"log/slog"
	"os"
	"strings"

	"civicom/config"
)

// Logger wraps slog so the rest of the code logs through one injected
// value instead of a package-level default. The zero value logs through
// slog.Default, which keeps test fixtures short.
type Logger struct {
	s *slog.Logger
}

func NewLogger(cfg *config.Config) (*Logger, error) {
	level := parseLevel(cfg.LoggerMode.Level)

	var handler slog.Handler
	if cfg.LoggerMode.Development {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return &Logger{s: slog.New(handler)}, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l Logger) base() *slog.Logger {
	if l.s == nil {
		return slog.Default()
	}
	return l.s
}

func (l Logger) Debug(msg string, args ...any) { l.base().Debug(msg, args...) }
func (l Logger) Info(msg string, args ...any)  { l.base().Info(msg, args...) }
func (l Logger) Warn(msg string, args ...any)  { l.base().Warn(msg, args...) }
func (l Logger) Error(msg string, args ...any) { l.base().Error(msg, args...) }
