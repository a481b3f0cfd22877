package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gumballmed/scanpipe/internal/application/tokens"
)

type contextKey string

const OwnerKey contextKey = "owner"

// TokenValidator is the part of the token issuer auth needs.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) (string, error)
}

// BearerAuth validates the access token from the Authorization header and
// stores the owner id in the request context.
func BearerAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			// Support both "Bearer <token>" and "<token>" formats
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if token == "" {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			owner, err := validator.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, authFailureMessage(err), http.StatusUnauthorized)
				return
			}
			if err := ValidateOwnerID(owner); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), OwnerKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, tokens.ErrExpired):
		return "token expired"
	case errors.Is(err, tokens.ErrStale):
		return "token revoked"
	default:
		return "invalid token"
	}
}

// GetOwnerFromContext extracts the authenticated owner id.
func GetOwnerFromContext(ctx context.Context) string {
	if owner, ok := ctx.Value(OwnerKey).(string); ok {
		return owner
	}
	return ""
}
