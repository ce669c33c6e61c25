package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	wire "qatmarket/pkg/domain"
)

// EventKind is the closed set of notification kinds.
type EventKind uint8

const (
	EventOrderUpdated EventKind = iota + 1
	EventWalletUpdated
	EventWithdrawalStatusChanged
	EventGiftCodeRedeemed
	EventChatMessage
	EventSystemAlert
)

func (k EventKind) String() string {
	switch k {
	case EventOrderUpdated:
		return "order_updated"
	case EventWalletUpdated:
		return "wallet_updated"
	case EventWithdrawalStatusChanged:
		return "withdrawal_status_changed"
	case EventGiftCodeRedeemed:
		return "gift_code_redeemed"
	case EventChatMessage:
		return "chat_message"
	case EventSystemAlert:
		return "system_alert"
	default:
		return fmt.Sprintf("event_kind(%d)", uint8(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "order_updated":
		return EventOrderUpdated, nil
	case "wallet_updated":
		return EventWalletUpdated, nil
	case "withdrawal_status_changed":
		return EventWithdrawalStatusChanged, nil
	case "gift_code_redeemed":
		return EventGiftCodeRedeemed, nil
	case "chat_message":
		return EventChatMessage, nil
	case "system_alert":
		return EventSystemAlert, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Payload is implemented only by the variants in this file.
type Payload interface {
	Kind() EventKind
	sealed()
}

type OrderUpdated struct {
	OrderID        uuid.UUID       `json:"orderId"`
	OrderCode      string          `json:"orderCode"`
	Status         OrderStatus     `json:"status"`
	PrevStatus     OrderStatus     `json:"prevStatus,omitempty"`
	DriverID       *uuid.UUID      `json:"driverId,omitempty"`
	Total          decimal.Decimal `json:"total"`
	WashIncomplete bool            `json:"washIncomplete,omitempty"`
}

type WalletUpdated struct {
	Balance       decimal.Decimal `json:"balance"`
	Available     decimal.Decimal `json:"available"`
	Delta         decimal.Decimal `json:"delta"`
	TxKind        TransactionKind `json:"kind,omitempty"`
	TransactionID *uuid.UUID      `json:"transactionId,omitempty"`
}

type WithdrawalStatusChanged struct {
	WithdrawalID uuid.UUID        `json:"withdrawalId"`
	Status       WithdrawalStatus `json:"status"`
	Amount       decimal.Decimal  `json:"amount"`
	Reason       string           `json:"reason,omitempty"`
}

type GiftCodeRedeemed struct {
	Code          string          `json:"code"`
	Amount        decimal.Decimal `json:"amount"`
	RemainingUses int             `json:"remainingUses"`
}

type ChatMessage struct {
	OrderID    uuid.UUID `json:"orderId"`
	FromUserID uuid.UUID `json:"fromUserId"`
	Body       string    `json:"body"`
}

type SystemAlert struct {
	Severity string    `json:"severity"`
	Subject  uuid.UUID `json:"subject"`
	Message  string    `json:"message"`
}

func (OrderUpdated) Kind() EventKind            { return EventOrderUpdated }
func (WalletUpdated) Kind() EventKind           { return EventWalletUpdated }
func (WithdrawalStatusChanged) Kind() EventKind { return EventWithdrawalStatusChanged }
func (GiftCodeRedeemed) Kind() EventKind        { return EventGiftCodeRedeemed }
func (ChatMessage) Kind() EventKind             { return EventChatMessage }
func (SystemAlert) Kind() EventKind             { return EventSystemAlert }

func (OrderUpdated) sealed()            {}
func (WalletUpdated) sealed()           {}
func (WithdrawalStatusChanged) sealed() {}
func (GiftCodeRedeemed) sealed()        {}
func (ChatMessage) sealed()             {}
func (SystemAlert) sealed()             {}

// Event is a committed state change addressed to one user.
type Event struct {
	ID          string
	// Seq is the store's commit sequence, set once the event is recorded.
	Seq         int64
	UserID      uuid.UUID
	Payload     Payload
	CommittedAt time.Time
}

// NewEvent stamps a fresh ULID. CommittedAt is filled by the coordinator
// with the unit's clock.
func NewEvent(userID uuid.UUID, p Payload, at time.Time) Event {
	return Event{
		ID:          ulid.Make().String(),
		UserID:      userID,
		Payload:     p,
		CommittedAt: at,
	}
}

func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return 0
	}
	return e.Payload.Kind()
}

// Outbound converts the event to its wire shape.
func (e Event) Outbound() (wire.OutboundEvent, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return wire.OutboundEvent{}, err
	}
	return wire.OutboundEvent{
		ID:          e.ID,
		Seq:         e.Seq,
		Type:        e.Kind().String(),
		UserID:      e.UserID,
		Payload:     raw,
		CommittedAt: e.CommittedAt,
	}, nil
}

// DecodePayload rebuilds a typed payload from its persisted JSON.
func DecodePayload(kind EventKind, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case EventOrderUpdated:
		var v OrderUpdated
		err = json.Unmarshal(raw, &v)
		p = v
	case EventWalletUpdated:
		var v WalletUpdated
		err = json.Unmarshal(raw, &v)
		p = v
	case EventWithdrawalStatusChanged:
		var v WithdrawalStatusChanged
		err = json.Unmarshal(raw, &v)
		p = v
	case EventGiftCodeRedeemed:
		var v GiftCodeRedeemed
		err = json.Unmarshal(raw, &v)
		p = v
	case EventChatMessage:
		var v ChatMessage
		err = json.Unmarshal(raw, &v)
		p = v
	case EventSystemAlert:
		var v SystemAlert
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown event kind %d", kind)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FromOutbound rebuilds a typed event from its wire shape.
func FromOutbound(o wire.OutboundEvent) (Event, error) {
	kind, err := ParseEventKind(o.Type)
	if err != nil {
		return Event{}, err
	}
	p, err := DecodePayload(kind, o.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: o.ID, Seq: o.Seq, UserID: o.UserID, Payload: p, CommittedAt: o.CommittedAt}, nil
}
