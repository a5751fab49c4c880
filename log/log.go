// Package log carries the slog plumbing shared by the client: a context
// logger, a component filter used by the --log-components debug flag and a
// tee fanning records into the on-device diagnostic journal.
package log

import (
	"context"
	"log/slog"
)

type ctxLoggerKey struct{}

// ContextWithLogger stores the client's root logger in ctx so nested call
// sites can log without a *slog.Logger threaded through every layer.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or
// slog.Default when the context carries none.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithComponent returns the context logger scoped to one component group,
// the same WithGroup convention the client's packages use for their own
// loggers, so ComponentFilterHandler can select it.
func WithComponent(ctx context.Context, component string) *slog.Logger {
	return LoggerFromContext(ctx).WithGroup(component)
}
