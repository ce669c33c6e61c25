// Package domain defines the ledger, order and notification entities.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is owned 1:1 by a user. Balance is a cache of the ledger sum and
// is only written by the ledger store.
type Wallet struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	Status       WalletStatus    `json:"status" db:"status"`
	FrozenReason *string         `json:"frozen_reason,omitempty" db:"frozen_reason"`
	Version      int64           `json:"-" db:"version"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

type WalletStatus string

const (
	WalletStatusActive WalletStatus = "active"
	WalletStatusFrozen WalletStatus = "frozen"
)

// Transaction is an immutable ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	Seq       int64             `json:"seq" db:"seq"`
	UserID    uuid.UUID         `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal   `json:"amount" db:"amount"`
	Kind      TransactionKind   `json:"kind" db:"kind"`
	Status    TransactionStatus `json:"status" db:"status"`
	Reference string            `json:"reference" db:"reference"`
	PrevHash  string            `json:"prev_hash" db:"prev_hash"`
	Hash      string            `json:"hash" db:"hash"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
	TransactionKindPurchase   TransactionKind = "purchase"
	TransactionKindRefund     TransactionKind = "refund"
)

// IsCredit reports whether the kind adds funds to a wallet.
func (k TransactionKind) IsCredit() bool {
	return k == TransactionKindDeposit || k == TransactionKindRefund
}

// IsDebit reports whether the kind removes funds from a wallet.
func (k TransactionKind) IsDebit() bool {
	return k == TransactionKindPurchase || k == TransactionKindWithdrawal
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Order is one buyer checkout. Total always equals the sum of its items.
type Order struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrderCode string          `json:"order_code" db:"order_code"`
	BuyerID   uuid.UUID       `json:"buyer_id" db:"buyer_id"`
	DriverID  *uuid.UUID      `json:"driver_id,omitempty" db:"driver_id"`
	Total     decimal.Decimal `json:"total" db:"total"`
	Status    OrderStatus     `json:"status" db:"status"`
	Note      string          `json:"note,omitempty" db:"note"`
	Version   int64           `json:"-" db:"version"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`

	Items []OrderItem `json:"items" db:"-"`
	Wash  *WashOrder  `json:"wash,omitempty" db:"-"`
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// OrderItem snapshots the product price at order time.
type OrderItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Quantity    int             `json:"quantity" db:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price" db:"total_price"`
}

// WashOrder is the optional wash-service sub-workflow of an order.
type WashOrder struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	OrderID   uuid.UUID  `json:"order_id" db:"order_id"`
	Status    WashStatus `json:"status" db:"status"`
	Version   int64      `json:"-" db:"version"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type WashStatus string

const (
	WashStatusPending WashStatus = "pending"
	WashStatusWashing WashStatus = "washing"
	WashStatusDone    WashStatus = "done"
)

type Driver struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	UserID    uuid.UUID    `json:"user_id" db:"user_id"`
	Name      string       `json:"name" db:"name"`
	Status    DriverStatus `json:"status" db:"status"`
	Version   int64        `json:"-" db:"version"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

type DriverStatus string

const (
	DriverStatusAvailable DriverStatus = "available"
	DriverStatusAssigned  DriverStatus = "assigned"
	DriverStatusOffline   DriverStatus = "offline"
)

type GiftCode struct {
	Code          string          `json:"code" db:"code"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	MaxUses       int             `json:"max_uses" db:"max_uses"`
	RemainingUses int             `json:"remaining_uses" db:"remaining_uses"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	Version       int64           `json:"-" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type GiftCodeUse struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Code          string    `json:"code" db:"code"`
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id" db:"transaction_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type Withdrawal struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	UserID        uuid.UUID        `json:"user_id" db:"user_id"`
	Amount        decimal.Decimal  `json:"amount" db:"amount"`
	Status        WithdrawalStatus `json:"status" db:"status"`
	Reason        *string          `json:"reason,omitempty" db:"reason"`
	ReviewedBy    *uuid.UUID       `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty" db:"reviewed_at"`
	TransactionID *uuid.UUID       `json:"transaction_id,omitempty" db:"transaction_id"`
	Version       int64            `json:"-" db:"version"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// Notification is the durable record of one event addressed to one user.
type Notification struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Seq         int64           `json:"seq" db:"seq"`
	EventID     string          `json:"event_id" db:"event_id"`
	UserID      uuid.UUID       `json:"user_id" db:"user_id"`
	Kind        string          `json:"kind" db:"kind"`
	Title       string          `json:"title" db:"title"`
	Body        string          `json:"body" db:"body"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	IsRead      bool            `json:"is_read" db:"is_read"`
	CommittedAt time.Time       `json:"committed_at" db:"committed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
