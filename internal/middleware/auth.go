// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"qatmarket/pkg/errors"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxUserIDKey contextKey = "user_id"
	ctxRoleKey   contextKey = "role"
)

// Roles carried in the user_type claim.
const (
	RoleBuyer  = "buyer"
	RoleDriver = "driver"
	RoleAdmin  = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenBlacklist reports revoked tokens.
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID    uuid.UUID
	Role      string
	ExpiresAt time.Time
}

// AuthMiddleware validates bearer JWTs and injects user identity into the context.
type AuthMiddleware struct {
	jwtSecret string
	blacklist TokenBlacklist
}

// NewAuthMiddleware constructs an AuthMiddleware. blacklist may be nil.
func NewAuthMiddleware(secret string, blacklist TokenBlacklist) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret, blacklist: blacklist}
}

// Parse validates a raw token and extracts the identity.
func (m *AuthMiddleware) Parse(ctx context.Context, tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	var expiresAt time.Time
	if exp, ok := claims["exp"].(float64); ok {
		if time.Now().Unix() > int64(exp) {
			return Identity{}, errors.Wrap(ErrInvalidToken, "token expired")
		}
		expiresAt = time.Unix(int64(exp), 0)
	}

	userIDStr, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, "invalid user id")
	}

	role, _ := claims["user_type"].(string)
	switch role {
	case RoleBuyer, RoleDriver, RoleAdmin:
	case "":
		role = RoleBuyer
	default:
		return Identity{}, errors.Wrap(ErrInvalidToken, "unknown user type")
	}

	if m.blacklist != nil {
		revoked, err := m.blacklist.IsBlacklisted(ctx, tokenString)
		if err != nil {
			return Identity{}, err
		}
		if revoked {
			return Identity{}, errors.Wrap(ErrInvalidToken, "token revoked")
		}
	}

	return Identity{UserID: userID, Role: role, ExpiresAt: expiresAt}, nil
}

// Authenticate enforces bearer auth and populates user details on the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		id, err := m.Parse(r.Context(), parts[1])
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := RoleFromContext(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			jsonError(w, http.StatusForbidden, "Insufficient permissions")
		})
	}
}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserIDKey, id.UserID)
	return context.WithValue(ctx, ctxRoleKey, id.Role)
}

// UserIDFromContext returns the authenticated user's UUID from context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(ctxUserIDKey)
	id, ok := v.(uuid.UUID)
	return id, ok
}

// RoleFromContext returns the authenticated user's role from context.
func RoleFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxRoleKey)
	s, ok := v.(string)
	return s, ok
}
