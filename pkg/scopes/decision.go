package scopes

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpgate/mcpgate/pkg/audit"
	"github.com/mcpgate/mcpgate/pkg/contextkeys"
	"github.com/mcpgate/mcpgate/pkg/observability"
)

// ResourceKind identifies what a decision request is about
type ResourceKind string

const (
	ResourceServer ResourceKind = "server"
	ResourceUI     ResourceKind = "ui"
	ResourceAgent  ResourceKind = "agent"
)

// Reason explains a decision outcome
type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonNoGrant           Reason = "no_grant"
	ReasonPolicyUnavailable Reason = "policy_unavailable"
	ReasonTimeout           Reason = "timeout"
)

// CheckRequest is the per-call tuple a gateway submits for a decision
type CheckRequest struct {
	Kind       ResourceKind  `json:"resource_kind"`
	ResourceID string        `json:"resource_id"`
	Method     string        `json:"method,omitempty"`
	Tool       string        `json:"tool,omitempty"`
	Permission PermissionKey `json:"permission,omitempty"`
	Action     string        `json:"action,omitempty"`
}

// Decision is the outcome of an access check. The decision point never
// returns an error to the gateway; every failure path terminates in an
// explicit deny with a reason code.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    Reason    `json:"reason"`
	Degraded  bool      `json:"degraded,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// DefaultDecisionTimeout bounds a single decision call
const DefaultDecisionTimeout = 2 * time.Second

// DecisionPoint is the per-request entry point: it consults the permission
// cache and renders Allow/Deny. The common cache-hit path performs no I/O
// beyond the in-memory lookup and version check.
type DecisionPoint struct {
	cache   *PermissionCache
	auditor audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
	stats   *DecisionStats
	timeout time.Duration
}

// NewDecisionPoint creates a decision point. auditor may be nil to disable
// event emission; metrics may be nil to disable instrumentation.
func NewDecisionPoint(cache *PermissionCache, auditor audit.Logger, logger *observability.Logger, metrics *observability.Metrics, timeout time.Duration) *DecisionPoint {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}
	return &DecisionPoint{
		cache:   cache,
		auditor: auditor,
		logger:  logger,
		metrics: metrics,
		stats:   NewDecisionStats(),
		timeout: timeout,
	}
}

// Stats exposes the decision counters for the stats endpoint
func (d *DecisionPoint) Stats() *DecisionStats {
	return d.stats
}

// Decide evaluates one access check for the principal. Missing grants at
// any level deny with no_grant; store failures deny with policy_unavailable
// unless a degraded last-known-good permission set was servable; exceeding
// the time budget denies with timeout.
func (d *DecisionPoint) Decide(ctx context.Context, principal *Principal, req CheckRequest) Decision {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "DecisionPoint.Decide")
	span.SetAttributes(
		attribute.String("decision.resource_kind", string(req.Kind)),
		attribute.String("decision.resource_id", req.ResourceID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	decision := d.evaluate(ctx, principal, req)
	decision.CheckedAt = time.Now().UTC()

	d.record(ctx, principal, req, decision, time.Since(start))
	return decision
}

func (d *DecisionPoint) evaluate(ctx context.Context, principal *Principal, req CheckRequest) Decision {
	resolveStart := time.Now()
	set, err := d.cache.GetOrCompute(ctx, principal.Identity, principal.Groups)
	if d.metrics != nil {
		d.metrics.RecordResolve(resolveErrorType(err), time.Since(resolveStart))
		d.metrics.UpdateCacheEntries(d.cache.Stats().Entries)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Decision{Allowed: false, Reason: ReasonTimeout}
		}
		if IsStoreUnavailable(err) {
			d.logger.WithError(err).Error("scope store unavailable, denying request")
			return Decision{Allowed: false, Reason: ReasonPolicyUnavailable}
		}
		d.logger.WithError(err).Error("permission resolution failed, denying request")
		return Decision{Allowed: false, Reason: ReasonPolicyUnavailable}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Decision{Allowed: false, Reason: ReasonTimeout}
	}

	var allowed bool
	switch req.Kind {
	case ResourceServer:
		allowed = set.AllowsServerCall(req.ResourceID, req.Method, req.Tool)
	case ResourceUI:
		allowed = set.AllowsUI(req.Permission, req.ResourceID)
	case ResourceAgent:
		allowed = set.AllowsAgentAction(req.ResourceID, req.Action)
	default:
		allowed = false
	}

	if !allowed {
		return Decision{Allowed: false, Reason: ReasonNoGrant, Degraded: set.Degraded}
	}
	return Decision{Allowed: true, Reason: ReasonGranted, Degraded: set.Degraded}
}

// resolveErrorType classifies a resolution failure for the error counter
func resolveErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsStoreUnavailable(err):
		return "unavailable"
	default:
		return "internal"
	}
}

// record emits the decision event and updates metrics. Emission failures
// are logged, never propagated into the request path.
func (d *DecisionPoint) record(ctx context.Context, principal *Principal, req CheckRequest, decision Decision, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordDecision(string(req.Kind), decision.Allowed, string(decision.Reason), elapsed)
	}
	d.stats.Record(decision)

	eventType := audit.EventTypeDecisionDeny
	outcome := "deny"
	if decision.Allowed {
		eventType = audit.EventTypeDecisionAllow
		outcome = "allow"
	}

	event := audit.NewEvent(eventType)
	event.Principal = principal.Identity
	event.PrincipalKind = string(principal.Kind)
	event.ResourceKind = string(req.Kind)
	event.ResourceID = req.ResourceID
	event.Tool = req.Tool
	event.Decision = outcome
	event.Reason = string(decision.Reason)
	event.Degraded = decision.Degraded
	event.Duration = elapsed
	event.RequestID = contextkeys.GetRequestID(ctx)

	switch req.Kind {
	case ResourceServer:
		event.Action = req.Method
	case ResourceUI:
		event.Action = string(req.Permission)
	case ResourceAgent:
		event.Action = req.Action
	}

	if err := d.auditor.Log(ctx, event); err != nil {
		d.logger.WithError(err).Warn("failed to emit decision audit event")
	}
}
