package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DBLogger persists audit events to a SQL database. It works against
// PostgreSQL in production and SQLite in tests; both accept numbered
// placeholders.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures the
// audit_events table exists
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id VARCHAR(64) PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		principal VARCHAR(255),
		principal_kind VARCHAR(16),
		resource_kind VARCHAR(32),
		resource_id VARCHAR(255),
		action VARCHAR(128),
		tool VARCHAR(128),
		decision VARCHAR(16),
		reason VARCHAR(64),
		degraded BOOLEAN DEFAULT FALSE,
		request_id VARCHAR(64),
		ip_address VARCHAR(45),
		duration_ms DOUBLE PRECISION,
		message TEXT,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_principal ON audit_events(principal);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_kind, resource_id);
	`
	_, err := l.db.Exec(query)
	return err
}

// Log inserts the event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	durationMS := event.DurationMS
	if durationMS == 0 && event.Duration > 0 {
		durationMS = float64(event.Duration.Microseconds()) / 1000.0
	}

	query := `
		INSERT INTO audit_events (id, timestamp, event_type, principal, principal_kind,
			resource_kind, resource_id, action, tool, decision, reason, degraded,
			request_id, ip_address, duration_ms, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.EventType),
		event.Principal,
		event.PrincipalKind,
		event.ResourceKind,
		event.ResourceID,
		event.Action,
		event.Tool,
		event.Decision,
		event.Reason,
		event.Degraded,
		event.RequestID,
		event.IPAddress,
		durationMS,
		event.Message,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first
func (l *DBLogger) Query(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= "+arg(*filter.EndTime))
	}
	if filter.Principal != "" {
		conditions = append(conditions, "principal = "+arg(filter.Principal))
	}
	if filter.ResourceKind != "" {
		conditions = append(conditions, "resource_kind = "+arg(filter.ResourceKind))
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, "resource_id = "+arg(filter.ResourceID))
	}
	if filter.Decision != "" {
		conditions = append(conditions, "decision = "+arg(filter.Decision))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = arg(string(et))
		}
		conditions = append(conditions, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT id, timestamp, event_type, principal, principal_kind, resource_kind,
		resource_id, action, tool, decision, reason, degraded, request_id, ip_address,
		duration_ms, message, metadata FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// FilterOptions returns the distinct principals and server resource ids
// present in the log, for populating admin UI filter dropdowns
func (l *DBLogger) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	options := &FilterOptions{}

	rows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT principal FROM audit_events WHERE principal <> '' ORDER BY principal`)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct principals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return nil, err
		}
		options.Principals = append(options.Principals, principal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	serverRows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT resource_id FROM audit_events WHERE resource_kind = 'server' AND resource_id <> '' ORDER BY resource_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct servers: %w", err)
	}
	defer serverRows.Close()
	for serverRows.Next() {
		var server string
		if err := serverRows.Scan(&server); err != nil {
			return nil, err
		}
		options.Servers = append(options.Servers, server)
	}
	return options, serverRows.Err()
}

// ExportNDJSON streams matching events as newline-delimited JSON
func (l *DBLogger) ExportNDJSON(ctx context.Context, w io.Writer, filter SearchFilter) error {
	events, err := l.Query(ctx, filter)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the caller owns the database handle
func (l *DBLogger) Close() error {
	return nil
}

func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*Event, error) {
	var event Event
	var timestamp time.Time
	var eventType, metadata string

	err := scanner.Scan(
		&event.ID,
		&timestamp,
		&eventType,
		&event.Principal,
		&event.PrincipalKind,
		&event.ResourceKind,
		&event.ResourceID,
		&event.Action,
		&event.Tool,
		&event.Decision,
		&event.Reason,
		&event.Degraded,
		&event.RequestID,
		&event.IPAddress,
		&event.DurationMS,
		&event.Message,
		&metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.Timestamp = timestamp
	event.EventType = EventType(eventType)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
			event.Metadata = nil
		}
	}
	return &event, nil
}
