package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger is the global structured logger
var Logger *slog.Logger

var initOnce sync.Once

// Init initializes the global logger based on environment.
// Production emits JSON at info level, everything else human-readable text at debug level.
func Init(env string) {
	initOnce.Do(func() {})
	Logger = slog.New(newHandler(os.Stdout, env))
	slog.SetDefault(Logger)
}

func newHandler(w io.Writer, env string) slog.Handler {
	switch env {
	case "production":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	case "test":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
}

func get() *slog.Logger {
	initOnce.Do(func() {
		if Logger == nil {
			Logger = slog.New(newHandler(os.Stdout, "development"))
		}
	})
	return Logger
}

// With returns a logger with additional key-value pairs
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	get().Error(msg, args...)
}
