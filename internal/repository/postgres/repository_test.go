package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qatmarket/internal/domain"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestWalletRepository_UpdateCAS(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWalletRepository(db)
	w := &domain.Wallet{ID: uuid.New(), UserID: uuid.New(), Balance: decimal.NewFromInt(10), Status: domain.WalletStatusActive, Version: 3}

	mock.ExpectExec(`UPDATE wallets SET`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), w))
	assert.Equal(t, int64(4), w.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepository_UpdateStaleVersion(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWalletRepository(db)
	w := &domain.Wallet{ID: uuid.New(), UserID: uuid.New(), Version: 2}

	mock.ExpectExec(`UPDATE wallets SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), w)
	assert.ErrorIs(t, err, errors.ErrConcurrencyConflict)
	assert.Equal(t, int64(2), w.Version)
}

func TestWalletRepository_LockMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWalletRepository(db)

	mock.ExpectQuery(`SELECT \* FROM wallets WHERE user_id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.LockByUserID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrWalletNotFound)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestTransactionRepository_AppendReturnsSeq(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)
	tx := &domain.Transaction{ID: uuid.New(), UserID: uuid.New(), Amount: decimal.NewFromInt(5),
		Kind: domain.TransactionKindDeposit, Status: domain.TransactionStatusCompleted, CreatedAt: time.Now().UTC()}

	mock.ExpectQuery(`INSERT INTO transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(41))

	require.NoError(t, repo.Append(context.Background(), tx))
	assert.Equal(t, int64(41), tx.Seq)
}

func TestTransactionRepository_AppendDuplicateReference(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)

	mock.ExpectQuery(`INSERT INTO transactions`).
		WillReturnError(&pq.Error{Code: pq.ErrorCode(pgerrcode.UniqueViolation)})

	err := repo.Append(context.Background(), &domain.Transaction{ID: uuid.New(), Reference: "bank:1"})
	assert.ErrorIs(t, err, errors.ErrDuplicate)
}

func TestTransactionRepository_SumCompleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)
	user := uuid.New()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM transactions`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("12.50"))

	sum, err := repo.SumCompleted(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("12.50")))
}

func TestTransactionRepository_LastEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)

	mock.ExpectQuery(`ORDER BY seq DESC LIMIT 1`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	last, err := repo.Last(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestNotificationRepository_InsertDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationRepository(db)
	n := &domain.Notification{ID: uuid.New(), EventID: "01HZY", UserID: uuid.New(), Payload: []byte(`{}`)}

	mock.ExpectQuery(`INSERT INTO notifications .* ON CONFLICT \(event_id\) DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(9))
	mock.ExpectQuery(`INSERT INTO notifications`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}))

	require.NoError(t, repo.Insert(context.Background(), n))
	assert.Equal(t, int64(9), n.Seq)
	assert.ErrorIs(t, repo.Insert(context.Background(), n), errors.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A replayed event inside a batch is skipped and the rest of the unit commits.
func TestUnitOfWork_ReplayedNotificationKeepsUnit(t *testing.T) {
	db, mock := newMock(t)
	uow := NewUnitOfWork(db)
	user := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), "01OLD", user, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}))
	mock.ExpectQuery(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), "01NEW", user, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(12))
	mock.ExpectCommit()

	var stored []string
	err := uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for _, id := range []string{"01OLD", "01NEW"} {
			n := &domain.Notification{ID: uuid.New(), EventID: id, UserID: user, Payload: []byte(`{}`)}
			if err := tx.Notifications().Insert(ctx, n); err != nil {
				if errors.Is(err, errors.ErrDuplicate) {
					continue
				}
				return err
			}
			stored = append(stored, id)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"01NEW"}, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_CommitAndRollback(t *testing.T) {
	db, mock := newMock(t)
	uow := NewUnitOfWork(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE drivers SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Drivers().Update(ctx, &domain.Driver{ID: uuid.New(), Version: 1})
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		return errors.ErrInsufficientFunds
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_SerializationFailureIsConflict(t *testing.T) {
	db, mock := newMock(t)
	uow := NewUnitOfWork(db)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: pq.ErrorCode(pgerrcode.SerializationFailure)})

	err := uow.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error { return nil })
	assert.ErrorIs(t, err, errors.ErrConcurrencyConflict)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil, "x"))
	assert.ErrorIs(t, classify(&pq.Error{Code: pq.ErrorCode(pgerrcode.DeadlockDetected)}, "x"), errors.ErrConcurrencyConflict)
	plain := classify(assert.AnError, "x")
	assert.ErrorIs(t, plain, assert.AnError)
	assert.False(t, errors.Is(plain, errors.ErrConcurrencyConflict))
}

func TestCatalogue_Upsert(t *testing.T) {
	db, mock := newMock(t)
	c := NewCatalogue(db)
	p := repository.Product{ID: uuid.New(), Name: "Soap", Price: decimal.NewFromInt(300), Available: true}

	mock.ExpectExec(`INSERT INTO products .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(p.ID, p.Name, p.Price, p.Available).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.Upsert(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}
