package logger

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
)

func FromCtx(ctx context.Context) Logger {
	return logger.FromCtx(ctx)
}

func CtxWithLogger(ctx context.Context, l Logger) context.Context {
	return logger.CtxWithLogger(ctx, l)
}

// CtxWithDefault returns a context carrying a logrus-backed logger of the
// given level, and also makes that logger the process default.
func CtxWithDefault(ctx context.Context, level Level) context.Context {
	l := logrus.Default().WithLevel(level)
	SetDefault(func() Logger { return l })
	return CtxWithLogger(ctx, l)
}

// CtxWithField returns a context whose logger tags every entry with the
// given key/value pair.
func CtxWithField(ctx context.Context, key string, value any) context.Context {
	return CtxWithLogger(ctx, FromCtx(ctx).WithField(key, value))
}
