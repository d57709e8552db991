package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileLogger appends audit events as JSON lines to a file via logrus.
// One line per event, suitable for shipping to an external audit pipeline.
type FileLogger struct {
	file   *os.File
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileLogger creates a file-based audit logger, creating the parent
// directory if needed
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	logger.SetLevel(logrus.InfoLevel)

	return &FileLogger{file: file, logger: logger}, nil
}

// Log writes the event as one JSON line
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.EventType,
	}
	if event.Principal != "" {
		fields["principal"] = event.Principal
		fields["principal_kind"] = event.PrincipalKind
	}
	if event.ResourceKind != "" {
		fields["resource_kind"] = event.ResourceKind
		fields["resource_id"] = event.ResourceID
	}
	if event.Action != "" {
		fields["action"] = event.Action
	}
	if event.Tool != "" {
		fields["tool"] = event.Tool
	}
	if event.Decision != "" {
		fields["decision"] = event.Decision
		fields["reason"] = event.Reason
	}
	if event.Degraded {
		fields["degraded"] = true
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.IPAddress != "" {
		fields["ip_address"] = event.IPAddress
	}
	if event.Duration > 0 {
		fields["duration_ms"] = float64(event.Duration.Microseconds()) / 1000.0
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	l.logger.WithFields(fields).WithTime(event.Timestamp).Info(event.Message)
	return nil
}

// Close syncs and closes the underlying file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return l.file.Close()
}
