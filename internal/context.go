package internal

import (
	"context"
	"time"
)

type ctxKey string

const (
	ContextSubjectKey     ctxKey = "subject"
	ContextPermissionsKey ctxKey = "permissions"
	ContextTraceIDKey     ctxKey = "trace_id"
)

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ContextTraceIDKey).(string); ok {
		return id
	}
	return ""
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ContextTraceIDKey, traceID)
}

// SubjectFromContext returns the operator subject set by the auth middleware.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if sub, ok := ctx.Value(ContextSubjectKey).(string); ok {
		return sub
	}
	return ""
}

func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextSubjectKey, subject)
}

func PermissionsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if perms, ok := ctx.Value(ContextPermissionsKey).([]string); ok {
		return perms
	}
	return nil
}

func ContextWithPermissions(ctx context.Context, perms []string) context.Context {
	return context.WithValue(ctx, ContextPermissionsKey, perms)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
