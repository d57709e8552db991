// Package auth adapts verified identity-provider claims into principals.
// The scope engine never owns identities or group membership; it consumes
// what the authenticator reports.
package auth

import (
	"context"

	"github.com/mcpgate/mcpgate/pkg/scopes"
)

// Authenticator verifies a bearer credential and returns the principal it
// represents
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*scopes.Principal, error)
}

// StaticAuthenticator maps fixed tokens to principals. Intended for tests
// and local development; production deployments use OIDC.
type StaticAuthenticator struct {
	principals map[string]*scopes.Principal
}

// NewStaticAuthenticator creates an authenticator over a fixed token table
func NewStaticAuthenticator(principals map[string]*scopes.Principal) *StaticAuthenticator {
	return &StaticAuthenticator{principals: principals}
}

// Authenticate looks the token up in the table
func (a *StaticAuthenticator) Authenticate(ctx context.Context, rawToken string) (*scopes.Principal, error) {
	principal, ok := a.principals[rawToken]
	if !ok {
		return nil, ErrInvalidToken
	}
	return principal, nil
}
