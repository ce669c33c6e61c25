package middleware

import (
	"net/http"
	"strings"

	"github.com/pquerna/otp/totp"
)

// StepUp demands a current TOTP code in X-OTP-Code before sensitive admin
// actions. With no secret configured every request is refused.
func StepUp(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				jsonError(w, http.StatusForbidden, "Step-up authentication is not configured")
				return
			}
			code := strings.TrimSpace(r.Header.Get("X-OTP-Code"))
			if code == "" || !totp.Validate(code, secret) {
				jsonError(w, http.StatusForbidden, "Valid one-time code required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
