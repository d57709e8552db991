package audit

import (
	"context"
	"fmt"
)

// MultiLogger fans events out to several loggers. A failure in one logger
// does not stop delivery to the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that delivers to every given logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log delivers the event to all loggers, returning the first error seen
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing audit loggers: %v", errs)
	}
	return nil
}
