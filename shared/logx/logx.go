package logx

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger is a thin wrapper over slog that enforces the event-code convention:
// every line carries a stable machine-readable event code next to the
// human-readable message.
type Logger struct {
	base *slog.Logger
	env  string
}

// New builds a JSON logger writing to stdout. version may be empty for local
// builds.
func New(service string, env string, version string, level string) Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: renameCoreKeys,
	})

	attrs := []any{
		slog.String("service", service),
		slog.String("env", env),
	}
	if v := strings.TrimSpace(version); v != "" {
		attrs = append(attrs, slog.String("version", v))
	}

	return Logger{base: slog.New(handler).With(attrs...), env: env}
}

func renameCoreKeys(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "ts"
	case slog.MessageKey:
		a.Key = "event"
	}
	return a
}

func (l Logger) Debug(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, event, msg, attrs)
}

func (l Logger) Info(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, event, msg, attrs)
}

func (l Logger) Warn(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, event, msg, attrs)
}

func (l Logger) Error(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelError, event, msg, attrs)
}

func (l Logger) log(ctx context.Context, level slog.Level, event string, msg string, attrs []slog.Attr) {
	if l.base == nil {
		return
	}
	l.base.LogAttrs(ctx, level, event, append(attrs, slog.String("msg", msg))...)
}

func (l Logger) Env() string { return l.env }

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
