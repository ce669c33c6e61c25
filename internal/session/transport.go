package session

import (
	"time"

	"github.com/gorilla/websocket"

	wire "qatmarket/pkg/domain"
)

// WebSocketTransport writes pushes as JSON text frames.
type WebSocketTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func NewWebSocketTransport(conn *websocket.Conn, writeWait time.Duration) *WebSocketTransport {
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &WebSocketTransport{conn: conn, writeWait: writeWait}
}

func (t *WebSocketTransport) Send(ev wire.OutboundEvent) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(ev)
}

// Ping may be called concurrently with Send.
func (t *WebSocketTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

func (t *WebSocketTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
	return t.conn.Close()
}
