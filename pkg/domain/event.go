// Package domain holds the wire contract shared by the server and its clients.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboundEvent is the shape of a committed domain event on the push channel
// and in the unread pull. Seq is the commit sequence; it rises per user.
type OutboundEvent struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq,omitempty"`
	Type        string          `json:"type"`
	UserID      uuid.UUID       `json:"userId"`
	Payload     json.RawMessage `json:"payload"`
	CommittedAt time.Time       `json:"committedAt"`
}

// Inbound frame types a client may send over the live channel.
const (
	InboundChat = "chat"
	InboundPing = "ping"
)

// InboundMessage is a client to server frame.
type InboundMessage struct {
	Type    string    `json:"type"`
	OrderID uuid.UUID `json:"orderId,omitempty"`
	Body    string    `json:"body,omitempty"`
}
