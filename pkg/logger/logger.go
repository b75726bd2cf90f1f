// Package logger configures slog for the imgseek services and carries
// request-scoped attributes (request ID, image ID, shard, channel) through
// contexts so every log line about one image can be found together.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

type contextKey struct{}

// Setup installs the default logger. Every record carries the service name.
// format is "json" or "text"; level is debug, info, warn or error and
// anything else means info.
func Setup(service, level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler).With("service", service))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, slog.String("request_id", requestID))
}

func WithImageID(ctx context.Context, imageID string) context.Context {
	return with(ctx, slog.String("image_id", imageID))
}

func WithShard(ctx context.Context, shardID int) context.Context {
	return with(ctx, slog.Int("shard_id", shardID))
}

// WithChannel records the colour channel an operation failed on.
func WithChannel(ctx context.Context, channel fmt.Stringer) context.Context {
	return with(ctx, slog.String("channel", channel.String()))
}

// FromContext returns the default logger with the attributes stored in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	attrs, _ := ctx.Value(contextKey{}).([]slog.Attr)
	if len(attrs) == 0 {
		return slog.Default()
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return slog.Default().With(args...)
}

// with returns a context whose attributes are those of ctx with attr added,
// replacing any attribute of the same key.
func with(ctx context.Context, attr slog.Attr) context.Context {
	prev, _ := ctx.Value(contextKey{}).([]slog.Attr)
	next := make([]slog.Attr, 0, len(prev)+1)
	for _, a := range prev {
		if a.Key != attr.Key {
			next = append(next, a)
		}
	}
	next = append(next, attr)
	return context.WithValue(ctx, contextKey{}, next)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
