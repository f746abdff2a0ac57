package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// logTo overrides the destination logger. Tests swap it for an observer.
var logTo func() *zap.Logger = obs.Logger

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
// Security-relevant actions (token issue/update/disable, shared-page denials,
// logins) go through here so they can be traced back to a request and a user.
func LogEvent(ctx context.Context, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	entry := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = append(entry, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry = append(entry, zap.String("user_id", string(userID)))
	}
	entry = append(entry, fields...)
	logTo().Info("audit", entry...)
	return nil
}
