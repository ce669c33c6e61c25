package handler

import (
	"context"
	"net/http"
	"time"

	"qatmarket/internal/middleware"
	"qatmarket/pkg/logger"
)

// Revoker blacklists a bearer token until it expires.
type Revoker interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
}

// tokens without an exp claim are revoked for this long.
const revokeFallback = 24 * time.Hour

type AuthHandler struct {
	auth    *middleware.AuthMiddleware
	revoker Revoker
	logger  logger.Logger
}

func NewAuthHandler(auth *middleware.AuthMiddleware, revoker Revoker, log logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, revoker: revoker, logger: log}
}

// Logout handles POST /api/v1/logout. The presented token stops working on
// every instance; open push sessions end at their next reconnect.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	id, err := h.auth.Parse(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	expiresAt := id.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(revokeFallback)
	}
	if err := h.revoker.Revoke(r.Context(), token, expiresAt); err != nil {
		respondDomainError(w, r, h.logger, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
