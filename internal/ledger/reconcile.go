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
)

const chainPage = 500

// Report is the outcome of comparing a wallet with its ledger.
type Report struct {
	UserID     uuid.UUID       `json:"user_id"`
	Stored     decimal.Decimal `json:"stored"`
	Derived    decimal.Decimal `json:"derived"`
	Entries    int             `json:"entries"`
	ChainValid bool            `json:"chain_valid"`
	BrokenAt   int64           `json:"broken_at,omitempty"`
	Frozen     bool            `json:"frozen"`
	Repaired   bool            `json:"repaired,omitempty"`
}

func (r *Report) Consistent() bool {
	return r.ChainValid && r.Stored.Equal(r.Derived)
}

// Reconcile recomputes the balance and walks the hash chain. The report is
// returned alongside an IntegrityFault when either check fails.
func (s *Service) Reconcile(ctx context.Context, tx repository.Tx, userID uuid.UUID) (*Report, error) {
	wallet, err := tx.Wallets().FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		UserID:     userID,
		Stored:     wallet.Balance,
		Derived:    decimal.Zero,
		ChainValid: true,
		Frozen:     wallet.Status == domain.WalletStatusFrozen,
	}

	prev := GenesisHash
	var after int64
	for {
		page, err := tx.Transactions().ListByUser(ctx, userID, after, chainPage)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			if e.Status == domain.TransactionStatusCompleted {
				report.Derived = report.Derived.Add(e.Amount)
			}
		}
		report.Entries += len(page)

		if report.ChainValid {
			var brk *ChainBreak
			prev, brk = VerifyChain(prev, page)
			if brk != nil {
				report.ChainValid = false
				report.BrokenAt = brk.Seq
			}
		}
		if len(page) < chainPage {
			break
		}
		after = page[len(page)-1].Seq
	}

	if !report.ChainValid {
		return report, fmt.Errorf("%w: hash chain of wallet %s broken at seq %d", errors.ErrIntegrityFault, userID, report.BrokenAt)
	}
	if !report.Stored.Equal(report.Derived) {
		return report, &IntegrityError{UserID: userID, Stored: report.Stored, Derived: report.Derived}
	}
	return report, nil
}

// Repair rewrites the stored balance from the ledger and unfreezes the wallet.
// A broken hash chain cannot be repaired and is reported as an IntegrityFault.
func (s *Service) Repair(ctx context.Context, tx repository.Tx, userID uuid.UUID, now time.Time) (*Report, error) {
	wallet, err := tx.Wallets().LockByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	report, err := s.Reconcile(ctx, tx, userID)
	if report == nil {
		return nil, err
	}
	if !report.ChainValid {
		return report, err
	}

	wallet.Balance = report.Derived
	wallet.Status = domain.WalletStatusActive
	wallet.FrozenReason = nil
	wallet.UpdatedAt = now
	if err := tx.Wallets().Update(ctx, wallet); err != nil {
		return nil, err
	}

	s.logger.Warn("Wallet repaired from ledger", map[string]interface{}{
		"user_id":  userID,
		"stored":   report.Stored.StringFixed(2),
		"derived":  report.Derived.StringFixed(2),
		"unfrozen": report.Frozen,
	})

	report.Stored = wallet.Balance
	report.Frozen = false
	report.Repaired = true
	return report, nil
}
