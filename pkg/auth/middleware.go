package auth

import (
	"net/http"
	"strings"

	"github.com/mcpgate/mcpgate/pkg/httputil"
	"github.com/mcpgate/mcpgate/pkg/observability"
	"github.com/mcpgate/mcpgate/pkg/scopes"
)

// Middleware authenticates Bearer tokens and attaches the principal to the
// request context
func Middleware(authenticator Authenticator, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.WriteUnauthorized(w, "authorization header required")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httputil.WriteUnauthorized(w, "authorization header must use the Bearer scheme")
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				logger.WithError(err).Debug("token verification failed")
				httputil.WriteUnauthorized(w, "invalid credentials")
				return
			}

			ctx := scopes.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
