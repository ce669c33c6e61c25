package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

// TransactionRepository appends to the ledger. Rows are never updated.
type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Append(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, amount, kind, status, reference, prev_hash, hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	err := r.db.QueryRowxContext(ctx, query,
		tx.ID, tx.UserID, tx.Amount, tx.Kind, tx.Status, tx.Reference, tx.PrevHash, tx.Hash, tx.CreatedAt,
	).Scan(&tx.Seq)
	return classify(err, "failed to append transaction")
}

func (r *TransactionRepository) SumCompleted(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1 AND status = 'completed'`
	if err := r.db.GetContext(ctx, &sum, query, userID); err != nil {
		return decimal.Zero, classify(err, "failed to sum ledger")
	}
	return sum, nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	query := `SELECT * FROM transactions WHERE user_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`
	if err := r.db.SelectContext(ctx, &txs, query, userID, afterSeq, limit); err != nil {
		return nil, classify(err, "failed to list transactions")
	}
	return txs, nil
}

// Last returns nil when the user has no transactions.
func (r *TransactionRepository) Last(ctx context.Context, userID uuid.UUID) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	query := `SELECT * FROM transactions WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`
	err := r.db.GetContext(ctx, tx, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "failed to read last transaction")
	}
	return tx, nil
}

func (r *TransactionRepository) FindByReference(ctx context.Context, userID uuid.UUID, kind domain.TransactionKind, reference string) (*domain.Transaction, error) {
	tx := &domain.Transaction{}
	query := `SELECT * FROM transactions WHERE user_id = $1 AND kind = $2 AND reference = $3`
	if err := r.db.GetContext(ctx, tx, query, userID, kind, reference); err != nil {
		return nil, notFound(err, errors.ErrNotFound, "failed to find transaction by reference")
	}
	return tx, nil
}
