package mcp

import (
	"net/http"
	"strings"
)

// AuthMiddleware guards the MCP transport with a shared API key presented as
// a Bearer token or plain Authorization value. An empty apiKey disables auth,
// which suits stdio or loopback-only deployments.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			// No "Bearer " prefix found, try plain API key header
			token = auth
		}

		if token != apiKey {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
