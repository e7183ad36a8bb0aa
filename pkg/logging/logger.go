package logging

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct {
	Key string
}

var (
	loggerKey = ctxKey{Key: "logger"}
	reqKey    = ctxKey{Key: "request_id"}
)

// GetLoggerFromContext returns the logger carried by ctx, or a default
// stdout JSON logger. The request id is attached when present.
func GetLoggerFromContext(ctx context.Context) *slog.Logger {
	var l *slog.Logger

	if logger := ctx.Value(loggerKey); logger != nil {
		l = logger.(*slog.Logger)
	} else {
		l = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	if requestID := GetRequestIDFromCtx(ctx); requestID != "" {
		l = l.With(slog.String("request_id", requestID))
	}

	return l
}

// GetLoggerFromContextWithOp returns the context logger with the
// operation name attached.
func GetLoggerFromContextWithOp(ctx context.Context, op string) *slog.Logger {
	return GetLoggerFromContext(ctx).With(slog.String("op", op))
}

func MakeContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
