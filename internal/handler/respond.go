// Package handler provides the HTTP and websocket surface of qatmarket.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"qatmarket/internal/middleware"
	"qatmarket/internal/order"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

const maxBody = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errors.KindInvalidTransition, errors.KindExhausted:
		return http.StatusConflict
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindExpired:
		return http.StatusGone
	case errors.KindConcurrencyConflict:
		return http.StatusServiceUnavailable
	case errors.KindIntegrityFault:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError writes err with its mapped status. Internal errors are
// logged and hidden from the caller.
func respondDomainError(w http.ResponseWriter, r *http.Request, log logger.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", map[string]interface{}{
			"operation":  op,
			"error":      err.Error(),
			"request_id": middleware.RequestIDFromContext(r.Context()),
		})
		respondError(w, status, "Internal server error")
		return
	}
	if status == http.StatusLocked {
		log.Warn("Request hit frozen wallet", map[string]interface{}{"operation": op, "error": err.Error()})
	}
	w.Header().Set("X-Error-Kind", string(errors.KindOf(err)))
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	respondError(w, status, err.Error())
}

// decode reads a JSON body, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// actor turns the authenticated identity into an order actor.
func actor(r *http.Request) order.Actor {
	userID, _ := middleware.UserIDFromContext(r.Context())
	role, _ := middleware.RoleFromContext(r.Context())
	switch role {
	case middleware.RoleAdmin:
		return order.Actor{Role: order.RoleAdmin, UserID: userID}
	case middleware.RoleDriver:
		return order.Actor{Role: order.RoleDriver, UserID: userID}
	default:
		return order.Actor{Role: order.RoleBuyer, UserID: userID}
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func queryInt64(r *http.Request, name string) int64 {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}
