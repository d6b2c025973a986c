// Package log sets up the default slog logger and carries loggers in contexts.
package log

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// Debug is set from the command line. When true the default logger runs at
// debug level and the fetcher stores screenshots of block pages.
var Debug bool

func level() slog.Level {
	if Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// InitializeDefaultLogger installs a text logger on stdout as slog's default.
func InitializeDefaultLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level()}))
	slog.SetDefault(logger)
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
