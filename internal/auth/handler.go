// Package auth provides optional bearer-token authentication for the API.
// Tokens are HS256 JWTs minted offline with `apwatch token`.
package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Handler exposes token introspection and the auth middleware to the server.
type Handler struct {
	tokens *TokenService
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(tokens *TokenService, logger *zap.Logger) *Handler {
	return &Handler{tokens: tokens, logger: logger}
}

// RegisterRoutes mounts the auth endpoints.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/auth/whoami", h.handleWhoAmI)
}

// Middleware returns the bearer-token middleware.
func (h *Handler) Middleware() func(http.Handler) http.Handler {
	return Middleware(h.tokens)
}

// WhoAmIResponse describes the caller's token.
type WhoAmIResponse struct {
	Subject   string     `json:"subject" example:"ha-automation"`
	Role      Role       `json:"role" example:"operator"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleWhoAmI returns the claims of the presented token.
//
//	@Summary		Describe token
//	@Description	Returns the subject and role of the bearer token.
//	@Tags			auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	WhoAmIResponse
//	@Failure		401	{object}	server.Problem
//	@Router			/auth/whoami [get]
func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		// Only reachable when the route is mounted without the middleware.
		h.logger.Warn("whoami called without claims")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	resp := WhoAmIResponse{Subject: claims.Subject, Role: claims.Role}
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
