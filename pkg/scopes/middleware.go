package scopes

import (
	"context"
	"net/http"

	"github.com/mcpgate/mcpgate/pkg/contextkeys"
	"github.com/mcpgate/mcpgate/pkg/httputil"
)

// AccessMiddleware provides HTTP middleware for gateways embedding the
// decision point in-process
type AccessMiddleware struct {
	decisions *DecisionPoint
}

// NewAccessMiddleware creates middleware around a decision point
func NewAccessMiddleware(decisions *DecisionPoint) *AccessMiddleware {
	return &AccessMiddleware{decisions: decisions}
}

// PrincipalFromContext returns the authenticated principal attached by the
// auth middleware, or nil when the request is unauthenticated
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := contextkeys.Principal(ctx).(*Principal)
	return principal
}

// WithPrincipal attaches a principal to the context
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, principal)
}

// RequireServerAccess requires the principal to hold the given method on
// the named server
func (m *AccessMiddleware) RequireServerAccess(server, method string) func(http.Handler) http.Handler {
	return m.require(CheckRequest{Kind: ResourceServer, ResourceID: server, Method: method})
}

// RequireUIPermission requires the principal to hold the UI permission for
// the named resource
func (m *AccessMiddleware) RequireUIPermission(key PermissionKey, resource string) func(http.Handler) http.Handler {
	return m.require(CheckRequest{Kind: ResourceUI, ResourceID: resource, Permission: key})
}

// RequireAgentAction requires the principal to hold the action on the agent
func (m *AccessMiddleware) RequireAgentAction(agent, action string) func(http.Handler) http.Handler {
	return m.require(CheckRequest{Kind: ResourceAgent, ResourceID: agent, Action: action})
}

func (m *AccessMiddleware) require(req CheckRequest) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			decision := m.decisions.Decide(r.Context(), principal, req)
			if !decision.Allowed {
				if decision.Reason == ReasonPolicyUnavailable {
					httputil.WriteServiceUnavailable(w, "access policy temporarily unavailable")
					return
				}
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
