package middleware

import (
	"context"
	"net/http"
	"strings"
)

// TokenVerifier checks a presented API key against the key store.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) error
}

// publicPaths are exempt from authentication. The agent card must stay
// reachable for A2A discovery.
var publicPaths = map[string]bool{
	"/healthz":                true,
	"/.well-known/agent.json": true,
}

// Auth returns middleware that validates API key credentials from the
// X-API-Key header or an Authorization: Bearer header. When enabled is
// false every request passes through.
func Auth(keys TokenVerifier, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// WebSocket clients cannot set headers during the upgrade;
			// they pass the key as a query parameter instead.
			if r.URL.Path == "/ws" {
				token := r.URL.Query().Get("token")
				if token == "" {
					http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
					return
				}
				if err := keys.VerifyToken(r.Context(), token); err != nil {
					http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Try X-API-Key header first.
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				if err := keys.VerifyToken(r.Context(), apiKey); err != nil {
					http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Then Authorization: Bearer <token>.
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}
			if err := keys.VerifyToken(r.Context(), token); err != nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
