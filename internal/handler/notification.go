package handler

import (
	"net/http"

	"qatmarket/internal/notification"
	"qatmarket/pkg/logger"
)

type NotificationHandler struct {
	hub    *notification.Hub
	logger logger.Logger
}

func NewNotificationHandler(hub *notification.Hub, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{hub: hub, logger: log}
}

// Unread handles GET /api/v1/notifications?after=&limit=
// Reconnecting clients pass the last seq they saw to pull what they missed.
func (h *NotificationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	events, err := h.hub.Unread(r.Context(), userID, queryInt64(r, "after"), queryInt(r, "limit", 100))
	if err != nil {
		respondDomainError(w, r, h.logger, "unread", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// Count handles GET /api/v1/notifications/count
func (h *NotificationHandler) Count(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.hub.UnreadCount(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, h.logger, "unread_count", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"unread": n})
}

type markReadRequest struct {
	ThroughSeq int64 `json:"through_seq"`
}

// MarkRead handles POST /api/v1/notifications/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req markReadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ThroughSeq <= 0 {
		respondError(w, http.StatusBadRequest, "through_seq must be positive")
		return
	}
	n, err := h.hub.MarkRead(r.Context(), userID, req.ThroughSeq)
	if err != nil {
		respondDomainError(w, r, h.logger, "mark_read", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"marked": n})
}
