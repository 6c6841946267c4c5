package util

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type loggerContextKey struct{}

// ParseLevel accepts debug, info, warn, error. Defaults to info on unknown input.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// InitLogger configures the global slog logger with JSON output on stdout.
// When logsDir is set the same records are also appended to
// <logsDir>/<service>.log. Every record carries the service name.
// The returned cleanup closes the file.
func InitLogger(level, service, logsDir string) (*slog.Logger, func() error) {
	service = strings.TrimSpace(service)
	opts := &slog.HandlerOptions{Level: ParseLevel(level), AddSource: true}
	stdout := slog.NewJSONHandler(os.Stdout, opts)
	cleanup := func() error { return nil }

	var handler slog.Handler = stdout
	if dir := strings.TrimSpace(logsDir); dir != "" {
		name := service
		if name == "" {
			name = "app"
		}
		logFile := filepath.Join(dir, name+".log")
		file, err := openLogFile(logFile)
		if err != nil {
			slog.New(stdout).Error("failed to open log file, using stdout only", "error", err, "file", logFile)
		} else {
			handler = slogmulti.Fanout(stdout, slog.NewJSONHandler(file, opts))
			cleanup = file.Close
		}
	}

	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	slog.SetDefault(logger)
	return logger, cleanup
}

// NewLoggerWithWriters fans JSON records out to every writer.
func NewLoggerWithWriters(level slog.Level, writers ...io.Writer) *slog.Logger {
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger, or the default one.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// Fatal logs at error level and exits.
func Fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
