package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/radarhq/identity"
)

type contextKey struct{ name string }

var principalKey = &contextKey{"principal"}

// Principal is the authenticated caller attached to the request context
// by Authenticate.
type Principal struct {
	AccountID  string
	Email      string
	Role       identity.Role
	MFAEnabled bool
}

// PrincipalFrom returns the request principal, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Authenticate validates the bearer token and attaches the principal.
// Requests without a valid access token get a 401.
func Authenticate(svc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := svc.ParseAccess(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			principal := Principal{
				AccountID:  claims.Subject,
				Email:      claims.Email,
				Role:       identity.Role(claims.Role),
				MFAEnabled: claims.MFAEnabled,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
		})
	}
}

// RequireRole gates a handler to the given roles. It must run after
// Authenticate; an absent principal is a 401, a wrong role a 403.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	allowed := make(map[identity.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !allowed[principal.Role] {
				writeJSONError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
