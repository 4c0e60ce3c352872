// Package auth provides HTTP middleware for bearer token authentication on
// the zmigrate operator endpoint.
package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// NewAuthMiddleware returns an HTTP middleware enforcing bearer token
// authentication. An empty token disables the check entirely.
//
// The request must carry `Authorization: Bearer <token>` exactly: the prefix
// is case-sensitive with a single space, and the token must match in full.
// Anything else gets a 401 without reaching the next handler.
func NewAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if provided := header[len(bearerPrefix):]; provided == "" || provided != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
