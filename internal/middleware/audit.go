package middleware

import (
	"net/http"

	"qatmarket/pkg/logger"
)

// AuditMiddleware records privileged requests.
type AuditMiddleware struct {
	logger logger.Logger
}

// NewAuditMiddleware creates a new AuditMiddleware.
func NewAuditMiddleware(log logger.Logger) *AuditMiddleware {
	return &AuditMiddleware{logger: log}
}

// Audit logs who did what and the resulting status.
func (m *AuditMiddleware) Audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped, ok := w.(*responseWriter)
		if !ok {
			wrapped = &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		}

		next.ServeHTTP(wrapped, r)

		userID, _ := UserIDFromContext(r.Context())
		role, _ := RoleFromContext(r.Context())
		m.logger.Info("Audit", map[string]interface{}{
			"user_id":    userID,
			"role":       role,
			"action":     r.Method + " " + r.URL.Path,
			"status":     wrapped.statusCode,
			"ip":         r.RemoteAddr,
			"request_id": RequestIDFromContext(r.Context()),
		})
	})
}
