// Package repository declares the storage contracts used by the ledger
// engine. Every mutation happens inside a UnitOfWork.
package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
)

// UnitOfWork runs fn atomically. fn's error aborts the unit; a nil return
// commits it. A lost race on commit is reported as errors.ErrConcurrencyConflict.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to one unit.
type Tx interface {
	Wallets() WalletRepository
	Transactions() TransactionRepository
	Orders() OrderRepository
	Drivers() DriverRepository
	GiftCodes() GiftCodeRepository
	Withdrawals() WithdrawalRepository
	Notifications() NotificationRepository
}

// Lock* methods take the row for the rest of the unit; Update performs a
// compare-and-swap on Version and bumps it.
type WalletRepository interface {
	Create(ctx context.Context, w *domain.Wallet) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	LockByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	Update(ctx context.Context, w *domain.Wallet) error
	ListUserIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error)
}

type TransactionRepository interface {
	Append(ctx context.Context, t *domain.Transaction) error
	SumCompleted(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]*domain.Transaction, error)
	Last(ctx context.Context, userID uuid.UUID) (*domain.Transaction, error)
	FindByReference(ctx context.Context, userID uuid.UUID, kind domain.TransactionKind, reference string) (*domain.Transaction, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	CreateWash(ctx context.Context, w *domain.WashOrder) error
	FindWash(ctx context.Context, orderID uuid.UUID) (*domain.WashOrder, error)
	LockWash(ctx context.Context, orderID uuid.UUID) (*domain.WashOrder, error)
	UpdateWash(ctx context.Context, w *domain.WashOrder) error
	// ListFlagged returns delivered orders whose wash is not done.
	ListFlagged(ctx context.Context, limit int) ([]*domain.Order, error)
}

type DriverRepository interface {
	Create(ctx context.Context, d *domain.Driver) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Driver, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Driver, error)
	LockByID(ctx context.Context, id uuid.UUID) (*domain.Driver, error)
	Update(ctx context.Context, d *domain.Driver) error
}

type GiftCodeRepository interface {
	Create(ctx context.Context, g *domain.GiftCode) error
	LockByCode(ctx context.Context, code string) (*domain.GiftCode, error)
	Update(ctx context.Context, g *domain.GiftCode) error
	InsertUse(ctx context.Context, u *domain.GiftCodeUse) error
	CountUses(ctx context.Context, code string, userID uuid.UUID) (int, error)
}

type WithdrawalRepository interface {
	Create(ctx context.Context, w *domain.Withdrawal) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	LockByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	Update(ctx context.Context, w *domain.Withdrawal) error
	SumPending(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Withdrawal, error)
}

// NotificationRepository persists one row per (event, user). Insert returns
// errors.ErrDuplicate when the event id already exists.
type NotificationRepository interface {
	Insert(ctx context.Context, n *domain.Notification) error
	ListUnread(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, userID uuid.UUID, throughSeq int64) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Product is a read-only catalogue entry.
type Product struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Available bool            `db:"available" json:"available"`
}

// Catalogue is the read-only product collaborator used to snapshot prices.
type Catalogue interface {
	Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
}
