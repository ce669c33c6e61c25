package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"qatmarket/internal/metrics"
	"qatmarket/internal/middleware"
	"qatmarket/internal/notification"
	"qatmarket/internal/session"
	"qatmarket/pkg/config"
	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/logger"
)

const (
	maxInboundFrame = 4096
	chatTimeout     = 5 * time.Second
)

// RealtimeHandler upgrades /ws to a push session. The socket is authenticated
// with the same bearer token as the REST API, passed in the token query
// parameter since browsers cannot set headers on the upgrade.
type RealtimeHandler struct {
	auth     *middleware.AuthMiddleware
	sessions *session.Manager
	hub      *notification.Hub
	cfg      config.SessionConfig
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewRealtimeHandler(auth *middleware.AuthMiddleware, sessions *session.Manager, hub *notification.Hub, cfg config.SessionConfig, log logger.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		auth:     auth,
		sessions: sessions,
		hub:      hub,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth, no cookies, so any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

func bearer(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ServeWS handles GET /ws
func (h *RealtimeHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, err := h.auth.Parse(r.Context(), bearer(r))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"user_id": id.UserID, "error": err.Error()})
		return
	}

	transport := session.NewWebSocketTransport(conn, h.cfg.WriteWait)
	s, err := h.sessions.OnConnect(id.UserID, transport)
	if err != nil {
		_ = transport.Close(websocket.CloseServiceRestart, "server restart")
		return
	}
	defer h.sessions.OnDisconnect(s.ID)

	go h.ping(s, transport)
	h.read(r.Context(), conn, s, id)
}

// ping keeps the connection alive until the session's writer exits.
func (h *RealtimeHandler) ping(s *session.Session, t *session.WebSocketTransport) {
	period := h.cfg.PingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			if err := t.Ping(); err != nil {
				_ = t.Close(websocket.CloseGoingAway, "ping failed")
				h.sessions.OnDisconnect(s.ID)
				return
			}
		}
	}
}

// read runs on the handler goroutine; gorilla allows one concurrent reader.
func (h *RealtimeHandler) read(ctx context.Context, conn *websocket.Conn, s *session.Session, id middleware.Identity) {
	wait := h.cfg.PongWait
	if wait <= 0 {
		wait = 60 * time.Second
	}
	conn.SetReadLimit(maxInboundFrame)
	extend := func() error { return conn.SetReadDeadline(time.Now().Add(wait)) }
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	limiter := rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read ended", map[string]interface{}{"session_id": s.ID, "error": err.Error()})
			}
			return
		}
		_ = extend()

		if !limiter.Allow() {
			metrics.RecordDrop("inbound_rate")
			continue
		}

		var msg wire.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Malformed inbound frame", map[string]interface{}{"session_id": s.ID})
			continue
		}

		switch msg.Type {
		case wire.InboundPing:
		case wire.InboundChat:
			cctx, cancel := context.WithTimeout(ctx, chatTimeout)
			if _, err := h.hub.Chat(cctx, id.UserID, msg.OrderID, msg.Body); err != nil {
				h.logger.Debug("Chat rejected", map[string]interface{}{
					"session_id": s.ID,
					"order_id":   msg.OrderID,
					"error":      err.Error(),
				})
			}
			cancel()
		default:
			h.logger.Debug("Unknown inbound frame", map[string]interface{}{"session_id": s.ID, "type": msg.Type})
		}
	}
}
