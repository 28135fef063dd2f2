package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/HerbHall/apwatch/internal/server"
)

// claimsKey is a context key for the validated token claims.
type claimsKey struct{}

// ClaimsFromContext returns the validated claims of the request.
// Returns nil if the request is not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return c
	}
	return nil
}

// Middleware validates bearer tokens on API routes. Non-API paths
// (healthz, readyz, metrics) are skipped. Viewers may only use safe methods.
// WebSocket upgrades may pass the token in the access_token query parameter
// since browsers cannot set headers on them.
func Middleware(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				server.Unauthorized(w, "missing or invalid authorization header", r.URL.Path)
				return
			}
			claims, err := tokens.Validate(tokenString)
			if err != nil {
				server.Unauthorized(w, "invalid or expired token", r.URL.Path)
				return
			}
			if !safeMethod(r.Method) && !claims.Role.CanWrite() {
				server.Forbidden(w, "role "+string(claims.Role)+" is read-only", r.URL.Path)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		return token, ok && token != ""
	}
	if strings.HasPrefix(r.URL.Path, "/api/v1/ws/") {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
