package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestDBLogger(t *testing.T) *DBLogger {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger, err := NewDBLogger(db)
	if err != nil {
		t.Fatalf("NewDBLogger() error = %v", err)
	}
	return logger
}

func logTestEvent(t *testing.T, logger *DBLogger, eventType EventType, principal, server, decision string, at time.Time) *Event {
	t.Helper()
	event := NewEvent(eventType)
	event.Timestamp = at
	event.Principal = principal
	event.PrincipalKind = "human"
	event.ResourceKind = "server"
	event.ResourceID = server
	event.Action = "tools/call"
	event.Decision = decision
	event.Metadata = map[string]interface{}{"request_path": "/mcp"}
	if err := logger.Log(context.Background(), event); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	return event
}

func TestDBLoggerLogAndQuery(t *testing.T) {
	ctx := context.Background()
	logger := newTestDBLogger(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	logTestEvent(t, logger, EventTypeDecisionAllow, "alice@example.com", "github", "allow", base)
	logTestEvent(t, logger, EventTypeDecisionDeny, "bob@example.com", "jira", "deny", base.Add(time.Minute))
	logTestEvent(t, logger, EventTypeScopeUpdate, "alice@example.com", "", "", base.Add(2*time.Minute))

	t.Run("unfiltered newest first", func(t *testing.T) {
		events, err := logger.Query(ctx, SearchFilter{})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("got %d events, want 3", len(events))
		}
		if events[0].EventType != EventTypeScopeUpdate {
			t.Errorf("first event = %v, want newest (scope.update)", events[0].EventType)
		}
		if events[0].Metadata["request_path"] != "/mcp" {
			t.Errorf("Metadata lost through storage: %v", events[0].Metadata)
		}
	})

	t.Run("filter by principal", func(t *testing.T) {
		events, err := logger.Query(ctx, SearchFilter{Principal: "bob@example.com"})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].ResourceID != "jira" {
			t.Errorf("events = %+v, want bob's jira deny", events)
		}
	})

	t.Run("filter by event types", func(t *testing.T) {
		events, err := logger.Query(ctx, SearchFilter{
			EventTypes: []EventType{EventTypeDecisionAllow, EventTypeDecisionDeny},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 {
			t.Errorf("got %d events, want 2 decisions", len(events))
		}
	})

	t.Run("filter by decision", func(t *testing.T) {
		events, err := logger.Query(ctx, SearchFilter{Decision: "deny"})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 {
			t.Errorf("got %d events, want 1 deny", len(events))
		}
	})

	t.Run("time window", func(t *testing.T) {
		start := base.Add(30 * time.Second)
		end := base.Add(90 * time.Second)
		events, err := logger.Query(ctx, SearchFilter{StartTime: &start, EndTime: &end})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].EventType != EventTypeDecisionDeny {
			t.Errorf("events = %+v, want only the middle event", events)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		events, err := logger.Query(ctx, SearchFilter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].EventType != EventTypeDecisionDeny {
			t.Errorf("events = %+v, want second-newest only", events)
		}
	})
}

func TestDBLoggerFilterOptions(t *testing.T) {
	ctx := context.Background()
	logger := newTestDBLogger(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	logTestEvent(t, logger, EventTypeDecisionAllow, "alice@example.com", "github", "allow", base)
	logTestEvent(t, logger, EventTypeDecisionAllow, "bob@example.com", "jira", "allow", base)
	logTestEvent(t, logger, EventTypeDecisionDeny, "alice@example.com", "github", "deny", base)

	options, err := logger.FilterOptions(ctx)
	if err != nil {
		t.Fatalf("FilterOptions() error = %v", err)
	}
	if len(options.Principals) != 2 || options.Principals[0] != "alice@example.com" {
		t.Errorf("Principals = %v, want sorted distinct [alice, bob]", options.Principals)
	}
	if len(options.Servers) != 2 || options.Servers[0] != "github" {
		t.Errorf("Servers = %v, want sorted distinct [github, jira]", options.Servers)
	}
}

func TestDBLoggerExportNDJSON(t *testing.T) {
	ctx := context.Background()
	logger := newTestDBLogger(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	logTestEvent(t, logger, EventTypeDecisionAllow, "alice@example.com", "github", "allow", base)
	logTestEvent(t, logger, EventTypeDecisionDeny, "bob@example.com", "jira", "deny", base.Add(time.Minute))

	var buf bytes.Buffer
	if err := logger.ExportNDJSON(ctx, &buf, SearchFilter{}); err != nil {
		t.Fatalf("ExportNDJSON() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Errorf("line is not JSON: %v: %s", err, line)
		}
	}
}

func TestNewDBLoggerRequiresDB(t *testing.T) {
	if _, err := NewDBLogger(nil); err == nil {
		t.Error("NewDBLogger(nil) expected error")
	}
}
