package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

type WalletRepository struct {
	db DBTX
}

func NewWalletRepository(db DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, wallet *domain.Wallet) error {
	wallet.Version = 1
	query := `
		INSERT INTO wallets (
			id, user_id, balance, status, frozen_reason, version, created_at, updated_at
		) VALUES (
			:id, :user_id, :balance, :status, :frozen_reason, :version, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, wallet)
	return classify(err, "failed to create wallet")
}

func (r *WalletRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet := &domain.Wallet{}
	query := `SELECT * FROM wallets WHERE user_id = $1`
	if err := r.db.GetContext(ctx, wallet, query, userID); err != nil {
		return nil, notFound(err, errors.ErrWalletNotFound, "failed to find wallet by user id")
	}
	return wallet, nil
}

func (r *WalletRepository) LockByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet := &domain.Wallet{}
	query := `SELECT * FROM wallets WHERE user_id = $1 FOR UPDATE`
	if err := r.db.GetContext(ctx, wallet, query, userID); err != nil {
		return nil, notFound(err, errors.ErrWalletNotFound, "failed to lock wallet")
	}
	return wallet, nil
}

// Update writes balance and status if the row still carries wallet.Version.
func (r *WalletRepository) Update(ctx context.Context, wallet *domain.Wallet) error {
	wallet.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE wallets SET
			balance = :balance,
			status = :status,
			frozen_reason = :frozen_reason,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`
	res, err := r.db.NamedExecContext(ctx, query, wallet)
	if err := affectOne(res, err, "failed to update wallet"); err != nil {
		return err
	}
	wallet.Version++
	return nil
}

func (r *WalletRepository) ListUserIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `SELECT user_id FROM wallets ORDER BY created_at, user_id LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &ids, query, limit, offset); err != nil {
		return nil, classify(err, "failed to list wallets")
	}
	return ids, nil
}
