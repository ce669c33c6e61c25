package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"qatmarket/internal/repository"
	"qatmarket/pkg/config"
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx so repositories can run
// inside or outside a unit.
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// Connect opens the pool described by cfg.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// UnitOfWork runs each unit in a SERIALIZABLE transaction.
type UnitOfWork struct {
	db *sqlx.DB
}

var _ repository.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := u.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err, "failed to begin unit")
	}
	defer tx.Rollback()

	if err := fn(ctx, bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit unit")
	}
	return nil
}

type repos struct {
	wallets       *WalletRepository
	transactions  *TransactionRepository
	orders        *OrderRepository
	drivers       *DriverRepository
	giftCodes     *GiftCodeRepository
	withdrawals   *WithdrawalRepository
	notifications *NotificationRepository
}

func bind(q DBTX) *repos {
	return &repos{
		wallets:       NewWalletRepository(q),
		transactions:  NewTransactionRepository(q),
		orders:        NewOrderRepository(q),
		drivers:       NewDriverRepository(q),
		giftCodes:     NewGiftCodeRepository(q),
		withdrawals:   NewWithdrawalRepository(q),
		notifications: NewNotificationRepository(q),
	}
}

func (r *repos) Wallets() repository.WalletRepository             { return r.wallets }
func (r *repos) Transactions() repository.TransactionRepository   { return r.transactions }
func (r *repos) Orders() repository.OrderRepository               { return r.orders }
func (r *repos) Drivers() repository.DriverRepository             { return r.drivers }
func (r *repos) GiftCodes() repository.GiftCodeRepository         { return r.giftCodes }
func (r *repos) Withdrawals() repository.WithdrawalRepository     { return r.withdrawals }
func (r *repos) Notifications() repository.NotificationRepository { return r.notifications }
