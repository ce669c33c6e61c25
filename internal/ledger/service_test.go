package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qatmarket/internal/domain"
	"qatmarket/internal/repository"
	"qatmarket/internal/repository/memory"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func unit(t *testing.T, store *memory.Store, fn func(ctx context.Context, tx repository.Tx) error) error {
	t.Helper()
	return store.Do(context.Background(), fn)
}

func credit(t *testing.T, svc *Service, store *memory.Store, user uuid.UUID, amount string) *Posting {
	t.Helper()
	var p *Posting
	require.NoError(t, unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = svc.Credit(ctx, tx, user, d(amount), domain.TransactionKindDeposit, "", now)
		return err
	}))
	return p
}

func TestCredit_OpensWalletAndChains(t *testing.T) {
	store := memory.New()
	svc := NewService(true, logger.NewNop())
	user := uuid.New()

	first := credit(t, svc, store, user, "40.00")
	second := credit(t, svc, store, user, "2.50")

	assert.True(t, second.Wallet.Balance.Equal(d("42.50")))
	assert.Equal(t, GenesisHash, first.Transaction.PrevHash)
	assert.Equal(t, first.Transaction.Hash, second.Transaction.PrevHash)
	assert.Less(t, first.Transaction.Seq, second.Transaction.Seq)
	assert.Equal(t, domain.TransactionStatusCompleted, second.Transaction.Status)
}

func TestCredit_RejectsBadInput(t *testing.T) {
	store := memory.New()
	svc := NewService(true, logger.NewNop())

	err := unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := svc.Credit(ctx, tx, uuid.New(), d("0"), domain.TransactionKindDeposit, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	err = unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := svc.Credit(ctx, tx, uuid.New(), d("5"), domain.TransactionKindPurchase, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	store := memory.New()
	svc := NewService(true, logger.NewNop())
	user := uuid.New()

	err := unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := svc.Debit(ctx, tx, user, d("1"), domain.TransactionKindPurchase, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds, "no wallet yet")

	credit(t, svc, store, user, "10")
	err = unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := svc.Debit(ctx, tx, user, d("10.01"), domain.TransactionKindPurchase, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)

	_ = unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		bal, err := svc.CurrentBalance(ctx, tx, user)
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("10")), "failed debit leaves no partial effect")
		return nil
	})
}

func TestDebit_RespectsReservations(t *testing.T) {
	store := memory.New()
	svc := NewService(true, logger.NewNop())
	user := uuid.New()
	credit(t, svc, store, user, "100")

	require.NoError(t, unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.Withdrawals().Create(ctx, &domain.Withdrawal{ID: uuid.New(), UserID: user, Amount: d("70"),
			Status: domain.WithdrawalStatusPending, CreatedAt: now, UpdatedAt: now})
	}))

	err := unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := svc.Debit(ctx, tx, user, d("40"), domain.TransactionKindPurchase, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)

	_ = unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		snap, err := svc.Snapshot(ctx, tx, user)
		require.NoError(t, err)
		assert.True(t, snap.Balance.Equal(d("100")))
		assert.True(t, snap.Reserved.Equal(d("70")))
		assert.True(t, snap.Available.Equal(d("30")))
		return nil
	})
}

func TestDuplicateReference(t *testing.T) {
	store := memory.New()
	svc := NewService(true, logger.NewNop())
	user := uuid.New()

	deposit := func() error {
		return unit(t, store, func(ctx context.Context, tx repository.Tx) error {
			_, err := svc.Credit(ctx, tx, user, d("5"), domain.TransactionKindDeposit, "bank:77", now)
			return err
		})
	}
	require.NoError(t, deposit())
	assert.ErrorIs(t, deposit(), errors.ErrDuplicateReference)
}

// skew writes a balance without a ledger entry.
func skew(t *testing.T, store *memory.Store, user uuid.UUID, balance string) {
	t.Helper()
	require.NoError(t, unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.Wallets().LockByUserID(ctx, user)
		if err != nil {
			return err
		}
		w.Balance = d(balance)
		return tx.Wallets().Update(ctx, w)
	}))
}

func TestVerifyOnWrite(t *testing.T) {
	store := memory.New()
	strict := NewService(true, logger.NewNop())
	lax := NewService(false, logger.NewNop())
	user := uuid.New()
	credit(t, strict, store, user, "10")
	skew(t, store, user, "15")

	err := unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := strict.Credit(ctx, tx, user, d("1"), domain.TransactionKindDeposit, "", now)
		return err
	})
	require.ErrorIs(t, err, errors.ErrIntegrityFault)
	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.True(t, ie.Stored.Equal(d("15")))
	assert.True(t, ie.Derived.Equal(d("10")))

	err = unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := lax.Credit(ctx, tx, user, d("1"), domain.TransactionKindDeposit, "", now)
		return err
	})
	assert.NoError(t, err)
}

func TestFreezeBlocksWritesAndRepairRestores(t *testing.T) {
	store := memory.New()
	svc := NewService(true, logger.NewNop())
	user := uuid.New()
	credit(t, svc, store, user, "10")
	skew(t, store, user, "12")

	require.NoError(t, unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		return svc.Freeze(ctx, tx, user, "balance mismatch", now)
	}))

	err := unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := svc.Credit(ctx, tx, user, d("1"), domain.TransactionKindDeposit, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrWalletFrozen)
	assert.ErrorIs(t, err, errors.ErrIntegrityFault)

	var report *Report
	require.NoError(t, unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		var err error
		report, err = svc.Repair(ctx, tx, user, now)
		return err
	}))
	assert.True(t, report.Repaired)
	assert.True(t, report.Stored.Equal(d("10")))

	_ = credit(t, svc, store, user, "1")
	_ = unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		report, err := svc.Reconcile(ctx, tx, user)
		require.NoError(t, err)
		assert.True(t, report.Consistent())
		assert.Equal(t, 2, report.Entries)
		assert.True(t, report.Derived.Equal(d("11")))
		return nil
	})
}

func TestReconcile_Mismatch(t *testing.T) {
	store := memory.New()
	svc := NewService(true, logger.NewNop())
	user := uuid.New()
	credit(t, svc, store, user, "3")
	skew(t, store, user, "4")

	_ = unit(t, store, func(ctx context.Context, tx repository.Tx) error {
		report, err := svc.Reconcile(ctx, tx, user)
		assert.ErrorIs(t, err, errors.ErrIntegrityFault)
		require.NotNil(t, report)
		assert.True(t, report.ChainValid)
		assert.False(t, report.Consistent())
		return nil
	})
}

func TestVerifyChain(t *testing.T) {
	user := uuid.New()
	mk := func(seq int64, prev, amount string) *domain.Transaction {
		e := &domain.Transaction{ID: uuid.New(), Seq: seq, UserID: user, Amount: d(amount),
			Kind: domain.TransactionKindDeposit, Status: domain.TransactionStatusCompleted, PrevHash: prev, CreatedAt: now}
		e.Hash = Hash(e)
		return e
	}
	a := mk(1, GenesisHash, "1")
	b := mk(2, a.Hash, "2")

	last, brk := VerifyChain(GenesisHash, []*domain.Transaction{a, b})
	assert.Nil(t, brk)
	assert.Equal(t, b.Hash, last)

	b.Amount = d("200")
	_, brk = VerifyChain(GenesisHash, []*domain.Transaction{a, b})
	require.NotNil(t, brk)
	assert.Equal(t, int64(2), brk.Seq)
	assert.Equal(t, "hash mismatch", brk.Reason)

	c := mk(3, "bogus", "1")
	_, brk = VerifyChain(GenesisHash, []*domain.Transaction{c})
	require.NotNil(t, brk)
	assert.Equal(t, "prev_hash mismatch", brk.Reason)
}

func TestHash_StableAcrossPrecision(t *testing.T) {
	e := &domain.Transaction{ID: uuid.New(), UserID: uuid.New(), Amount: d("5"), Kind: domain.TransactionKindRefund,
		Status: domain.TransactionStatusCompleted, PrevHash: GenesisHash, CreatedAt: now.Add(123 * time.Nanosecond)}
	h := Hash(e)

	e.Amount = d("5.00")
	e.CreatedAt = now.In(time.FixedZone("x", 3600))
	assert.Equal(t, h, Hash(e))
}
