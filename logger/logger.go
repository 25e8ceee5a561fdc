// Package logger is a thin context-driven facade over go-belt's logger,
// shared by all the packages of the module.
package logger

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Logger is a type-alias for go-belt's logger.Logger.
type Logger = logger.Logger

func SetDefault(defaultLogger func() Logger) {
	logger.Default = defaultLogger
}

func Debugf(ctx context.Context, format string, args ...any) {
	logger.Debugf(ctx, format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	logger.Infof(ctx, format, args...)
}

func Warnf(ctx context.Context, format string, args ...any) {
	logger.Warnf(ctx, format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	logger.Errorf(ctx, format, args...)
}

// Panicf logs and then panics.
func Panicf(ctx context.Context, format string, args ...any) {
	logger.Panicf(ctx, format, args...)
}

func Debug(ctx context.Context, values ...any) {
	logger.Debug(ctx, values...)
}

func Error(ctx context.Context, values ...any) {
	logger.Error(ctx, values...)
}

// Logf logs an unstructured message on the given level. All the contextual
// structured fields are logged as well.
func Logf(ctx context.Context, level Level, format string, args ...any) {
	logger.Logf(ctx, level, format, args...)
}
