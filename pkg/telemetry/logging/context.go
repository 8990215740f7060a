package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	toolIDKey    contextKey = "tool_id"
	sessionIDKey contextKey = "session_id"
)

// WithRequestID stores a request id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request id stored in the context, or "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithTool stores the tool id served by the current listener.
func WithTool(ctx context.Context, toolID string) context.Context {
	return context.WithValue(ctx, toolIDKey, toolID)
}

// GetTool returns the tool id stored in the context, or "".
func GetTool(ctx context.Context) string {
	v, _ := ctx.Value(toolIDKey).(string)
	return v
}

// WithSession stores the identified session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSession returns the session id stored in the context, or "".
func GetSession(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// FromContext returns logger annotated with the request-scoped fields found
// in ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}

	var args []any
	if v := GetRequestID(ctx); v != "" {
		args = append(args, "request_id", v)
	}
	if v := GetTool(ctx); v != "" {
		args = append(args, "tool_id", v)
	}
	if v := GetSession(ctx); v != "" {
		args = append(args, "session_id", v)
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
