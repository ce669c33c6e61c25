// ==============================================================================
// LEDGER SERVICE - internal/ledger/service.go
// ==============================================================================
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

// Service is the only writer of wallet balances. Every method runs inside the
// caller's unit; nothing here commits.
type Service struct {
	verifyOnWrite bool
	logger        logger.Logger
}

func NewService(verifyOnWrite bool, log logger.Logger) *Service {
	return &Service{verifyOnWrite: verifyOnWrite, logger: log}
}

// Posting is the result of one ledger write.
type Posting struct {
	Transaction *domain.Transaction
	Wallet      *domain.Wallet
}

// IntegrityError reports a stored balance that disagrees with the ledger.
type IntegrityError struct {
	UserID  uuid.UUID
	Stored  decimal.Decimal
	Derived decimal.Decimal
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("wallet %s balance %s does not match ledger %s",
		e.UserID, e.Stored.StringFixed(2), e.Derived.StringFixed(2))
}

func (e *IntegrityError) Unwrap() error { return errors.ErrIntegrityFault }

// Credit adds amount to the user's wallet, creating it on first use.
func (s *Service) Credit(ctx context.Context, tx repository.Tx, userID uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, reference string, now time.Time) (*Posting, error) {
	if !kind.IsCredit() {
		return nil, errors.Validation("%s is not a credit kind", kind)
	}
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	wallet, err := tx.Wallets().LockByUserID(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		wallet, err = s.open(ctx, tx, userID, now)
	}
	if err != nil {
		return nil, err
	}
	if err := s.writable(ctx, tx, wallet); err != nil {
		return nil, err
	}

	return s.post(ctx, tx, wallet, amount, kind, reference, now)
}

// Debit removes amount from the user's wallet. The balance net of pending
// withdrawals must cover it.
func (s *Service) Debit(ctx context.Context, tx repository.Tx, userID uuid.UUID, amount decimal.Decimal, kind domain.TransactionKind, reference string, now time.Time) (*Posting, error) {
	if !kind.IsDebit() {
		return nil, errors.Validation("%s is not a debit kind", kind)
	}
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
	if err := s.writable(ctx, tx, wallet); err != nil {
		return nil, err
	}

	reserved, err := tx.Withdrawals().SumPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.Sub(reserved).LessThan(amount) {
		return nil, errors.ErrInsufficientFunds
	}

	return s.post(ctx, tx, wallet, amount.Neg(), kind, reference, now)
}

func (s *Service) open(ctx context.Context, tx repository.Tx, userID uuid.UUID, now time.Time) (*domain.Wallet, error) {
	wallet := &domain.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   decimal.Zero,
		Status:    domain.WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Wallets().Create(ctx, wallet); err != nil {
		if errors.Is(err, errors.ErrDuplicate) {
			// Another unit opened it first.
			return nil, errors.ErrConcurrencyConflict
		}
		return nil, err
	}
	s.logger.Info("Wallet opened", map[string]interface{}{
		"user_id":   userID,
		"wallet_id": wallet.ID,
	})
	return wallet, nil
}

func (s *Service) writable(ctx context.Context, tx repository.Tx, wallet *domain.Wallet) error {
	if wallet.Status == domain.WalletStatusFrozen {
		return errors.ErrWalletFrozen
	}
	if !s.verifyOnWrite {
		return nil
	}
	derived, err := tx.Transactions().SumCompleted(ctx, wallet.UserID)
	if err != nil {
		return err
	}
	if !derived.Equal(wallet.Balance) {
		return &IntegrityError{UserID: wallet.UserID, Stored: wallet.Balance, Derived: derived}
	}
	return nil
}

func (s *Service) post(ctx context.Context, tx repository.Tx, wallet *domain.Wallet, signed decimal.Decimal, kind domain.TransactionKind, reference string, now time.Time) (*Posting, error) {
	last, err := tx.Transactions().Last(ctx, wallet.UserID)
	if err != nil {
		return nil, err
	}
	prev := GenesisHash
	if last != nil {
		prev = last.Hash
	}

	entry := &domain.Transaction{
		ID:        uuid.New(),
		UserID:    wallet.UserID,
		Amount:    signed,
		Kind:      kind,
		Status:    domain.TransactionStatusCompleted,
		Reference: reference,
		PrevHash:  prev,
		CreatedAt: now.UTC().Truncate(time.Microsecond),
	}
	entry.Hash = Hash(entry)

	if err := tx.Transactions().Append(ctx, entry); err != nil {
		if errors.Is(err, errors.ErrDuplicate) {
			return nil, errors.ErrDuplicateReference
		}
		return nil, err
	}

	wallet.Balance = wallet.Balance.Add(signed)
	if wallet.Balance.IsNegative() {
		return nil, errors.ErrInsufficientFunds
	}
	wallet.UpdatedAt = now
	if err := tx.Wallets().Update(ctx, wallet); err != nil {
		return nil, err
	}

	return &Posting{Transaction: entry, Wallet: wallet}, nil
}

// CurrentBalance is zero for a user without a wallet.
func (s *Service) CurrentBalance(ctx context.Context, tx repository.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	wallet, err := tx.Wallets().FindByUserID(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

type Snapshot struct {
	UserID    uuid.UUID           `json:"user_id"`
	Balance   decimal.Decimal     `json:"balance"`
	Reserved  decimal.Decimal     `json:"reserved"`
	Available decimal.Decimal     `json:"available"`
	Status    domain.WalletStatus `json:"status"`
}

func (s *Service) Snapshot(ctx context.Context, tx repository.Tx, userID uuid.UUID) (*Snapshot, error) {
	snap := &Snapshot{UserID: userID, Status: domain.WalletStatusActive}

	wallet, err := tx.Wallets().FindByUserID(ctx, userID)
	switch {
	case err == nil:
		snap.Balance = wallet.Balance
		snap.Status = wallet.Status
	case errors.Is(err, errors.ErrNotFound):
		snap.Balance = decimal.Zero
	default:
		return nil, err
	}

	snap.Reserved, err = tx.Withdrawals().SumPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap.Available = snap.Balance.Sub(snap.Reserved)
	return snap, nil
}

// Freeze blocks further writes until Repair.
func (s *Service) Freeze(ctx context.Context, tx repository.Tx, userID uuid.UUID, reason string, now time.Time) error {
	wallet, err := tx.Wallets().LockByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.Status == domain.WalletStatusFrozen {
		return nil
	}
	wallet.Status = domain.WalletStatusFrozen
	wallet.FrozenReason = &reason
	wallet.UpdatedAt = now
	if err := tx.Wallets().Update(ctx, wallet); err != nil {
		return err
	}

	s.logger.Warn("Wallet frozen", map[string]interface{}{
		"user_id": userID,
		"reason":  reason,
	})
	return nil
}
