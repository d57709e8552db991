package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger is the interface for audit event emission
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// contextKey is the type for context keys
type contextKey string

// loggerKey is the context key for the audit logger
const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context, falling back to a
// no-op logger when none is set
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NewEvent creates an event with id and timestamp populated
func NewEvent(eventType EventType) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
	}
}

// NopLogger discards all events; used in tests and when auditing is disabled
type NopLogger struct{}

// Log discards the event
func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

// Close is a no-op
func (NopLogger) Close() error { return nil }
