package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/mcpgate/mcpgate/pkg/scopes"
)

// ErrInvalidToken indicates the credential failed verification
var ErrInvalidToken = errors.New("invalid token")

// OIDCConfig holds OIDC verifier settings
type OIDCConfig struct {
	IssuerURL string
	ClientID  string

	// GroupsClaim names the claim carrying group membership; both "groups"
	// and Cognito's "cognito:groups" are read when empty.
	GroupsClaim string
}

// OIDCAuthenticator verifies ID tokens against an OIDC provider and maps
// their claims to principals
type OIDCAuthenticator struct {
	config   OIDCConfig
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAuthenticator discovers the OIDC provider and creates a verifier
func NewOIDCAuthenticator(ctx context.Context, config OIDCConfig) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: config.ClientID,
	})

	return &OIDCAuthenticator{
		config:   config,
		verifier: verifier,
	}, nil
}

// tokenClaims covers the claim shapes of the supported providers
type tokenClaims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	Groups        []string `json:"groups"`
	CognitoGroups []string `json:"cognito:groups"`
	ClientID      string   `json:"client_id"`
	TokenUse      string   `json:"token_use"`
	GrantType     string   `json:"grant_type"`
}

// Authenticate verifies the raw ID token and builds a principal from its
// claims. Machine-to-machine tokens are recognized by the client_credentials
// grant or the absence of a subject email.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, rawToken string) (*scopes.Principal, error) {
	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}

	groups := claims.Groups
	if len(groups) == 0 {
		groups = claims.CognitoGroups
	}
	if a.config.GroupsClaim != "" {
		var generic map[string]interface{}
		if err := idToken.Claims(&generic); err == nil {
			if mapped := stringSlice(generic[a.config.GroupsClaim]); len(mapped) > 0 {
				groups = mapped
			}
		}
	}

	principal := &scopes.Principal{
		Kind:   scopes.PrincipalHuman,
		Groups: groups,
	}

	if claims.GrantType == "client_credentials" || claims.Email == "" {
		principal.Kind = scopes.PrincipalM2M
		principal.Identity = claims.ClientID
		if principal.Identity == "" {
			principal.Identity = claims.Subject
		}
	} else {
		principal.Identity = claims.Email
	}

	if principal.Identity == "" {
		return nil, fmt.Errorf("%w: token carries no usable identity", ErrInvalidToken)
	}
	return principal, nil
}

func stringSlice(value interface{}) []string {
	items, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
