package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Decision events
	EventTypeDecisionAllow EventType = "decision.allow"
	EventTypeDecisionDeny  EventType = "decision.deny"

	// Scope administration events
	EventTypeScopeCreate EventType = "scope.create"
	EventTypeScopeUpdate EventType = "scope.update"
	EventTypeScopeDelete EventType = "scope.delete"
	EventTypeScopeImport EventType = "scope.import"
	EventTypeScopeExport EventType = "scope.export"

	// Virtual server administration events
	EventTypeVirtualServerRegister   EventType = "virtual_server.register"
	EventTypeVirtualServerDeregister EventType = "virtual_server.deregister"
)

// Event is a single audit record emitted by the engine. Persistence beyond
// the configured loggers is the audit collaborator's concern.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	// Actor
	Principal     string `json:"principal,omitempty"`
	PrincipalKind string `json:"principal_kind,omitempty"`

	// Subject of the decision or mutation
	ResourceKind string `json:"resource_kind,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Action       string `json:"action,omitempty"`
	Tool         string `json:"tool,omitempty"`

	// Decision outcome
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`

	// Request context
	RequestID  string        `json:"request_id,omitempty"`
	IPAddress  string        `json:"ip_address,omitempty"`
	DurationMS float64       `json:"duration_ms,omitempty"`
	Duration   time.Duration `json:"-"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter selects events when querying a persistent logger
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	Principal    string
	EventTypes   []EventType
	ResourceKind string
	ResourceID   string
	Decision     string

	Limit  int
	Offset int
}

// FilterOptions lists the distinct values available for audit log filters
type FilterOptions struct {
	Principals []string `json:"principals"`
	Servers    []string `json:"servers"`
}
