// Package withdrawal implements the request, approve and reject workflow.
// A pending withdrawal reserves funds; only approval touches the ledger.
package withdrawal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/internal/ledger"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

type Service struct {
	ledger *ledger.Service
	logger logger.Logger
}

func NewService(l *ledger.Service, log logger.Logger) *Service {
	return &Service{ledger: l, logger: log}
}

// Reference is the ledger reference of an approved withdrawal.
func Reference(id uuid.UUID) string {
	return "withdrawal:" + id.String()
}

type Decision struct {
	Withdrawal *domain.Withdrawal
	Posting    *ledger.Posting
}

// Request reserves amount against the available balance. The wallet row is
// rewritten so concurrent requests by the same user conflict.
func (s *Service) Request(ctx context.Context, tx repository.Tx, userID uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	wallet, err := tx.Wallets().LockByUserID(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}
	if wallet.Status == domain.WalletStatusFrozen {
		return nil, errors.ErrWalletFrozen
	}

	reserved, err := tx.Withdrawals().SumPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.Sub(reserved).LessThan(amount) {
		return nil, errors.ErrInsufficientFunds
	}

	wallet.UpdatedAt = now
	if err := tx.Wallets().Update(ctx, wallet); err != nil {
		return nil, err
	}

	w := &domain.Withdrawal{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Status:    domain.WithdrawalStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Withdrawals().Create(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal requested", map[string]interface{}{
		"withdrawal_id": w.ID,
		"user_id":       userID,
		"amount":        amount.StringFixed(2),
	})
	return w, nil
}

// Approve marks a pending withdrawal approved and debits it.
func (s *Service) Approve(ctx context.Context, tx repository.Tx, id, reviewer uuid.UUID, now time.Time) (*Decision, error) {
	w, err := s.lockPending(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	w.Status = domain.WithdrawalStatusApproved
	w.ReviewedBy = &reviewer
	w.ReviewedAt = &now
	w.UpdatedAt = now
	if err := tx.Withdrawals().Update(ctx, w); err != nil {
		return nil, err
	}

	posting, err := s.ledger.Debit(ctx, tx, w.UserID, w.Amount, domain.TransactionKindWithdrawal, Reference(w.ID), now)
	if err != nil {
		return nil, err
	}
	w.TransactionID = &posting.Transaction.ID
	if err := tx.Withdrawals().Update(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal approved", map[string]interface{}{
		"withdrawal_id": w.ID,
		"reviewer":      reviewer,
	})
	return &Decision{Withdrawal: w, Posting: posting}, nil
}

// Reject releases the reservation without touching the ledger.
func (s *Service) Reject(ctx context.Context, tx repository.Tx, id, reviewer uuid.UUID, reason string, now time.Time) (*Decision, error) {
	w, err := s.lockPending(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	w.Status = domain.WithdrawalStatusRejected
	w.Reason = &reason
	w.ReviewedBy = &reviewer
	w.ReviewedAt = &now
	w.UpdatedAt = now
	if err := tx.Withdrawals().Update(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal rejected", map[string]interface{}{
		"withdrawal_id": w.ID,
		"reviewer":      reviewer,
		"reason":        reason,
	})
	return &Decision{Withdrawal: w}, nil
}

func (s *Service) lockPending(ctx context.Context, tx repository.Tx, id uuid.UUID) (*domain.Withdrawal, error) {
	w, err := tx.Withdrawals().LockByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalStatusPending {
		return nil, errors.ErrNotPending
	}
	return w, nil
}
