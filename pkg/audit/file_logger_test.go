package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventTypeDecisionAllow)
	if event.ID == "" {
		t.Error("ID not populated")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp not populated")
	}
	if event.EventType != EventTypeDecisionAllow {
		t.Errorf("EventType = %v, want decision.allow", event.EventType)
	}
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs", "audit.log")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	event := NewEvent(EventTypeDecisionDeny)
	event.Principal = "alice@example.com"
	event.PrincipalKind = "human"
	event.ResourceKind = "server"
	event.ResourceID = "github"
	event.Action = "tools/call"
	event.Tool = "create_issue"
	event.Decision = "deny"
	event.Reason = "no_grant"
	event.Duration = 1500 * time.Microsecond
	event.Metadata = map[string]interface{}{"request_path": "/mcp"}

	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := logger.Log(ctx, NewEvent(EventTypeScopeCreate)); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line is not JSON: %v: %s", err, scanner.Text())
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	first := lines[0]
	if first["event_type"] != "decision.deny" {
		t.Errorf("event_type = %v, want decision.deny", first["event_type"])
	}
	if first["principal"] != "alice@example.com" {
		t.Errorf("principal = %v", first["principal"])
	}
	if first["tool"] != "create_issue" {
		t.Errorf("tool = %v", first["tool"])
	}
	if first["reason"] != "no_grant" {
		t.Errorf("reason = %v", first["reason"])
	}
	if first["duration_ms"] != 1.5 {
		t.Errorf("duration_ms = %v, want 1.5", first["duration_ms"])
	}
	if first["meta_request_path"] != "/mcp" {
		t.Errorf("meta_request_path = %v", first["meta_request_path"])
	}
}

func TestFileLoggerCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeply", "nested", "audit.log")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory not created: %v", err)
	}
}
