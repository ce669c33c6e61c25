package middleware

import (
	"context"
	"net/http"

	"github.com/rs/xid"
)

type correlationKey string

const ctxRequestIDKey correlationKey = "request_id"

const maxRequestIDLen = 64

// validRequestID accepts caller ids made of [A-Za-z0-9._-] only, so they are
// safe to echo into logs and headers.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// CorrelationID tags every request with an X-Request-ID, keeping a well-formed
// one sent by the caller and minting an xid otherwise.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if !validRequestID(reqID) {
			reqID = xid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestIDKey, reqID)))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestIDKey).(string)
	return id
}
