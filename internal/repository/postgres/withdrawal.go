package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

type WithdrawalRepository struct {
	db DBTX
}

func NewWithdrawalRepository(db DBTX) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *domain.Withdrawal) error {
	w.Version = 1
	query := `
		INSERT INTO withdrawals (
			id, user_id, amount, status, reason, reviewed_by, reviewed_at, transaction_id, version, created_at, updated_at
		) VALUES (
			:id, :user_id, :amount, :status, :reason, :reviewed_by, :reviewed_at, :transaction_id, :version, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, w)
	return classify(err, "failed to create withdrawal")
}

func (r *WithdrawalRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	w := &domain.Withdrawal{}
	if err := r.db.GetContext(ctx, w, `SELECT * FROM withdrawals WHERE id = $1`, id); err != nil {
		return nil, notFound(err, errors.ErrWithdrawalNotFound, "failed to find withdrawal")
	}
	return w, nil
}

func (r *WithdrawalRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	w := &domain.Withdrawal{}
	if err := r.db.GetContext(ctx, w, `SELECT * FROM withdrawals WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, notFound(err, errors.ErrWithdrawalNotFound, "failed to lock withdrawal")
	}
	return w, nil
}

func (r *WithdrawalRepository) Update(ctx context.Context, w *domain.Withdrawal) error {
	query := `
		UPDATE withdrawals SET
			status = :status,
			reason = :reason,
			reviewed_by = :reviewed_by,
			reviewed_at = :reviewed_at,
			transaction_id = :transaction_id,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`
	res, err := r.db.NamedExecContext(ctx, query, w)
	if err := affectOne(res, err, "failed to update withdrawal"); err != nil {
		return err
	}
	w.Version++
	return nil
}

// SumPending is the amount reserved by pending withdrawals.
func (r *WithdrawalRepository) SumPending(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE user_id = $1 AND status = 'pending'`
	if err := r.db.GetContext(ctx, &sum, query, userID); err != nil {
		return decimal.Zero, classify(err, "failed to sum pending withdrawals")
	}
	return sum, nil
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Withdrawal, error) {
	var out []*domain.Withdrawal
	query := `SELECT * FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, classify(err, "failed to list withdrawals")
	}
	return out, nil
}
