// Package logging provides small slog conventions shared across the
// pipeline: attaching a logger to a context, a uniform "operation" event
// shape, and safe-close helpers for defer sites that would otherwise swallow
// close errors.
package logging

import (
	"context"
	"io"
	"log/slog"
)

type contextKey struct{}

// WithLogger returns a context carrying logger, retrievable with FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger attached with WithLogger, or slog.Default()
// if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// LogOperation emits an info-level event naming a discrete step in a
// pipeline stage (e.g. "catalog_loaded", "route_task_completed"). Keeping the
// event name as the message (rather than folding it into free text) makes
// these greppable and aggregable across a day's log output.
func LogOperation(logger *slog.Logger, event string, attrs ...slog.Attr) {
	logger.LogAttrs(context.Background(), slog.LevelInfo, event, attrs...)
}

// LogError emits a warn-level event for a non-fatal error: the kind of error
// the propagation policy in spec §7 says to record and continue past
// (Geometric, DataIntegrity, NumericAnomaly, TaskFailure). Fatal errors
// (InputMissing, CatalogInvalid) should be returned up the call stack
// instead of logged here.
func LogError(logger *slog.Logger, msg string, err error, attrs ...slog.Attr) {
	allAttrs := make([]slog.Attr, 0, len(attrs)+1)
	allAttrs = append(allAttrs, slog.String("error", err.Error()))
	allAttrs = append(allAttrs, attrs...)
	logger.LogAttrs(context.Background(), slog.LevelWarn, msg, allAttrs...)
}

// SafeCloseWithLogging closes c and logs any error at warn level instead of
// letting a deferred Close() error disappear silently.
func SafeCloseWithLogging(c io.Closer, logger *slog.Logger, name string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		LogError(logger, "error closing "+name, err)
	}
}
