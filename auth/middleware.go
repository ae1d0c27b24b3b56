package auth

import (
	"context"
	"net/http"
	"strings"
)

type claimsKey struct{}

// RequireAdmin returns middleware that rejects requests without a valid
// admin bearer token. The token is read from the Authorization header
// ("Bearer <token>") — there is no session cookie, since every client of
// this API is a program (replay system, crawler, audit tool), not a
// browser session.
func RequireAdmin(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				http.Error(w, "missing admin token", http.StatusForbidden)
				return
			}
			claims, err := ValidateToken(secret, tokenStr)
			if err != nil || claims.Role != "admin" {
				http.Error(w, "invalid admin token", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// GetClaims retrieves the AdminClaims from the context, or nil if absent.
func GetClaims(ctx context.Context) *AdminClaims {
	c, _ := ctx.Value(claimsKey{}).(*AdminClaims)
	return c
}
