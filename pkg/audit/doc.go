// Package audit provides audit event emission and persistence for access
// decisions and administrative mutations.
//
// # Overview
//
// Every gateway decision and every scope or virtual-server mutation is recorded
// as an Event. Sinks are pluggable behind the Logger interface: FileLogger
// appends JSON lines for shipping to an external pipeline, DBLogger persists to
// SQL and backs the admin query API, and MultiLogger fans out to several sinks.
//
// # Usage Example
//
// Emit a decision event:
//
//	event := audit.NewEvent(audit.EventTypeDecisionDeny)
//	event.Principal = principal.Identity
//	event.ResourceKind = "server"
//	event.ResourceID = "github"
//	event.Reason = "no_grant"
//	logger.Log(ctx, event)
//
// Query persisted events:
//
//	events, err := dbLogger.Query(ctx, audit.SearchFilter{
//		Principal: "alice@example.com",
//		Decision:  "deny",
//		Limit:     50,
//	})
//
// # Export
//
// DBLogger.ExportNDJSON streams matching events as newline-delimited JSON for
// external analysis.
package audit
