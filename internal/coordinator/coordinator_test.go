package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qatmarket/internal/domain"
	"qatmarket/internal/giftcode"
	"qatmarket/internal/ledger"
	"qatmarket/internal/notification"
	"qatmarket/internal/order"
	"qatmarket/internal/repository"
	"qatmarket/internal/repository/memory"
	"qatmarket/internal/withdrawal"
	wire "qatmarket/pkg/domain"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type nopPusher struct{}

func (nopPusher) Push(uuid.UUID, wire.OutboundEvent) int { return 0 }

// recordingHub keeps every dispatched batch.
type recordingHub struct {
	*notification.Hub
	mu         sync.Mutex
	dispatched []domain.Event
}

func (h *recordingHub) Dispatch(events []domain.Event) {
	h.mu.Lock()
	h.dispatched = append(h.dispatched, events...)
	h.mu.Unlock()
}

func (h *recordingHub) kinds() []domain.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.EventKind, 0, len(h.dispatched))
	for _, ev := range h.dispatched {
		out = append(out, ev.Kind())
	}
	return out
}

// flakyUnit lets the first Do of each Execute through (the scope read) and
// fails the next n with a conflict.
type flakyUnit struct {
	repository.UnitOfWork
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyUnit) reset(failures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = failures
	f.calls = 0
}

func (f *flakyUnit) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls > 1 && f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.ErrConcurrencyConflict
	}
	return f.UnitOfWork.Do(ctx, fn)
}

type env struct {
	store  *memory.Store
	ledger *ledger.Service
	hub    *recordingHub
	coord  *Coordinator
	soap   repository.Product
	driver *domain.Driver
}

func newEnv(t *testing.T, uow repository.UnitOfWork, store *memory.Store) *env {
	t.Helper()
	l := ledger.NewService(true, logger.NewNop())
	hub := &recordingHub{Hub: notification.NewHub(store, nopPusher{}, 64, logger.NewNop())}
	e := &env{
		store:  store,
		ledger: l,
		hub:    hub,
		soap:   repository.Product{ID: uuid.New(), Name: "Soap", Price: d("300"), Available: true},
		driver: &domain.Driver{ID: uuid.New(), UserID: uuid.New(), Name: "Musa", Status: domain.DriverStatusAvailable},
	}
	store.PutProduct(e.soap)
	e.coord = New(uow, Services{
		Ledger:      l,
		Orders:      order.NewService(l, store, logger.NewNop()),
		GiftCodes:   giftcode.NewService(l, false, logger.NewNop()),
		Withdrawals: withdrawal.NewService(l, logger.NewNop()),
	}, hub, Config{MaxAttempts: 3, RetryDelay: time.Millisecond, UnitTimeout: time.Second}, logger.NewNop(),
		WithClock(func() time.Time { return now }))

	require.NoError(t, store.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.Drivers().Create(ctx, e.driver)
	}))
	return e
}

func setup(t *testing.T) *env {
	store := memory.New()
	return newEnv(t, store, store)
}

func (e *env) deposit(t *testing.T, user uuid.UUID, amount, ref string) {
	t.Helper()
	_, err := e.coord.Execute(context.Background(), Deposit{UserID: user, Amount: d(amount), Reference: ref})
	require.NoError(t, err)
}

func (e *env) available(t *testing.T, user uuid.UUID) decimal.Decimal {
	t.Helper()
	snap, err := e.coord.Balance(context.Background(), user)
	require.NoError(t, err)
	return snap.Available
}

// consistent asserts the stored balance equals the ledger sum.
func (e *env) consistent(t *testing.T, user uuid.UUID) {
	t.Helper()
	report, err := e.coord.Reconcile(context.Background(), user, false)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func (e *env) placeOrder(t *testing.T, buyer uuid.UUID) *domain.Order {
	t.Helper()
	res, err := e.coord.Execute(context.Background(), PlaceOrder{
		BuyerID: buyer,
		Items:   []order.ItemRequest{{ProductID: e.soap.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	return res.Value.(*domain.Order)
}

func TestScenario_DebitUntilInsufficient(t *testing.T) {
	e := setup(t)
	buyer := uuid.New()
	e.deposit(t, buyer, "500", "bank-1")

	e.placeOrder(t, buyer)
	assert.True(t, e.available(t, buyer).Equal(d("200")))
	e.consistent(t, buyer)

	_, err := e.coord.Execute(context.Background(), PlaceOrder{
		BuyerID: buyer,
		Items:   []order.ItemRequest{{ProductID: e.soap.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)
	assert.True(t, e.available(t, buyer).Equal(d("200")))
	e.consistent(t, buyer)
}

func TestScenario_CancelRefundsAndReleasesDriver(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	buyer := uuid.New()
	admin := order.Actor{Role: order.RoleAdmin, UserID: uuid.New()}
	e.deposit(t, buyer, "500", "bank-1")
	o := e.placeOrder(t, buyer)

	_, err := e.coord.Execute(ctx, AdvanceOrderStatus{OrderID: o.ID, Target: domain.OrderStatusProcessing, Actor: admin})
	require.NoError(t, err)
	_, err = e.coord.Execute(ctx, AssignDriver{OrderID: o.ID, DriverID: e.driver.ID, Actor: admin})
	require.NoError(t, err)

	res, err := e.coord.Execute(ctx, CancelOrder{OrderID: o.ID, Actor: order.Actor{Role: order.RoleBuyer, UserID: buyer}})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, res.Value.(*domain.Order).Status)

	var driver *domain.Driver
	var refund *domain.Transaction
	require.NoError(t, e.store.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if driver, err = tx.Drivers().FindByID(ctx, e.driver.ID); err != nil {
			return err
		}
		refund, err = tx.Transactions().FindByReference(ctx, buyer, domain.TransactionKindRefund, order.Reference(o.ID))
		return err
	}))
	assert.Equal(t, domain.DriverStatusAvailable, driver.Status)
	assert.True(t, refund.Amount.Equal(d("300")))
	assert.True(t, e.available(t, buyer).Equal(d("500")))
	e.consistent(t, buyer)

	// Buyer and driver both hear about the cancellation, then the refund.
	var users []uuid.UUID
	for _, ev := range res.Events {
		users = append(users, ev.UserID)
	}
	assert.Equal(t, []uuid.UUID{buyer, e.driver.UserID, buyer}, users)
}

func TestScenario_ConcurrentRedeemSingleUse(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	const code = "79927398713"
	_, err := e.coord.Execute(ctx, IssueGiftCode{
		IssueRequest: giftcode.IssueRequest{Code: code, Amount: d("25"), MaxUses: 1},
		IssuedBy:     uuid.New(),
	})
	require.NoError(t, err)

	users := []uuid.UUID{uuid.New(), uuid.New()}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u uuid.UUID) {
			defer wg.Done()
			_, errs[i] = e.coord.Execute(ctx, RedeemGiftCode{Code: code, UserID: u})
		}(i, u)
	}
	wg.Wait()

	ok, exhausted := 0, 0
	credited := decimal.Zero
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errors.ErrExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
		credited = credited.Add(e.available(t, users[i]))
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, exhausted)
	assert.True(t, credited.Equal(d("25")))
}

func TestWithdrawal_RequestRejectRestoresAvailable(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	user := uuid.New()
	e.deposit(t, user, "150", "bank-1")
	before := e.available(t, user)

	res, err := e.coord.Execute(ctx, RequestWithdrawal{UserID: user, Amount: d("100")})
	require.NoError(t, err)
	w := res.Value.(*domain.Withdrawal)
	assert.True(t, e.available(t, user).Equal(d("50")))

	_, err = e.coord.Execute(ctx, RequestWithdrawal{UserID: user, Amount: d("60")})
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)

	_, err = e.coord.Execute(ctx, RejectWithdrawal{WithdrawalID: w.ID, ReviewerID: uuid.New(), Reason: "details mismatch"})
	require.NoError(t, err)
	assert.True(t, e.available(t, user).Equal(before))
	e.consistent(t, user)
}

func TestWithdrawal_Approve(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	user := uuid.New()
	e.deposit(t, user, "150", "bank-1")

	res, err := e.coord.Execute(ctx, RequestWithdrawal{UserID: user, Amount: d("100")})
	require.NoError(t, err)
	w := res.Value.(*domain.Withdrawal)

	res, err = e.coord.Execute(ctx, ApproveWithdrawal{WithdrawalID: w.ID, ReviewerID: uuid.New()})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	wallet := res.Events[1].Payload.(domain.WalletUpdated)
	assert.True(t, wallet.Balance.Equal(d("50")))
	assert.True(t, wallet.Delta.Equal(d("-100")))

	_, err = e.coord.Execute(ctx, ApproveWithdrawal{WithdrawalID: w.ID, ReviewerID: uuid.New()})
	assert.ErrorIs(t, err, errors.ErrNotPending)
	e.consistent(t, user)
}

func TestDeposit_DuplicateReference(t *testing.T) {
	e := setup(t)
	user := uuid.New()
	e.deposit(t, user, "10", "bank-7")

	_, err := e.coord.Execute(context.Background(), Deposit{UserID: user, Amount: d("10"), Reference: "bank-7"})
	assert.ErrorIs(t, err, errors.ErrDuplicateReference)
	assert.True(t, e.available(t, user).Equal(d("10")))
}

func TestExecute_ValidationAndCancellation(t *testing.T) {
	e := setup(t)
	user := uuid.New()

	_, err := e.coord.Execute(context.Background(), PlaceOrder{BuyerID: user})
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = e.coord.Execute(context.Background(), CancelOrder{OrderID: uuid.New(), Actor: order.Actor{Role: "courier"}})
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = e.coord.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrUnknownIntent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.coord.Execute(ctx, Deposit{UserID: user, Amount: d("10"), Reference: "r"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.available(t, user).IsZero())
	assert.Empty(t, e.hub.kinds())
}

func TestExecute_RetriesConflicts(t *testing.T) {
	store := memory.New()
	flaky := &flakyUnit{UnitOfWork: store}
	e := newEnv(t, flaky, store)
	user := uuid.New()

	flaky.reset(2)
	_, err := e.coord.Execute(context.Background(), Deposit{UserID: user, Amount: d("5"), Reference: "retry"})
	require.NoError(t, err)
	assert.Equal(t, 4, flaky.calls)

	flaky.reset(5)
	_, err = e.coord.Execute(context.Background(), Deposit{UserID: user, Amount: d("5"), Reference: "give-up"})
	assert.ErrorIs(t, err, errors.ErrTryAgain)
	assert.Equal(t, 4, flaky.calls)

	flaky.reset(0)
	assert.True(t, e.available(t, user).Equal(d("5")))
	assert.Len(t, e.hub.kinds(), 1)
}

func TestExecute_IntegrityFaultFreezesWallet(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	user := uuid.New()
	e.deposit(t, user, "40", "bank-1")

	// Corrupt the stored balance behind the ledger's back.
	require.NoError(t, e.store.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.Wallets().LockByUserID(ctx, user)
		if err != nil {
			return err
		}
		w.Balance = d("90")
		return tx.Wallets().Update(ctx, w)
	}))

	_, err := e.coord.Execute(ctx, Deposit{UserID: user, Amount: d("1"), Reference: "bank-2"})
	require.ErrorIs(t, err, errors.ErrIntegrityFault)

	snap, err := e.coord.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusFrozen, snap.Status)

	unread, err := e.hub.Unread(ctx, user, 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, unread)
	assert.Equal(t, "system_alert", unread[len(unread)-1].Type)

	_, err = e.coord.Execute(ctx, Deposit{UserID: user, Amount: d("1"), Reference: "bank-3"})
	assert.ErrorIs(t, err, errors.ErrWalletFrozen)

	report, err := e.coord.Reconcile(ctx, user, true)
	require.NoError(t, err)
	assert.True(t, report.Repaired)

	snap, err = e.coord.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusActive, snap.Status)
	assert.True(t, snap.Balance.Equal(d("40")))
}

func TestOfflineEventsPulledInCommitOrder(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	user := uuid.New()

	for _, ref := range []string{"a", "b", "c"} {
		e.deposit(t, user, "1", ref)
	}

	unread, err := e.hub.Unread(ctx, user, 0, 10)
	require.NoError(t, err)
	require.Len(t, unread, 3)
	for i, want := range []string{"1", "2", "3"} {
		ev, err := domain.FromOutbound(unread[i])
		require.NoError(t, err)
		p := ev.Payload.(domain.WalletUpdated)
		assert.True(t, p.Balance.Equal(d(want)))
		if i > 0 {
			assert.Greater(t, unread[i].Seq, unread[i-1].Seq)
		}
	}
	assert.Len(t, e.hub.kinds(), 3)
}

func TestReconcileAll(t *testing.T) {
	e := setup(t)
	a, b := uuid.New(), uuid.New()
	e.deposit(t, a, "10", "a")
	e.deposit(t, b, "10", "b")

	require.NoError(t, e.store.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.Wallets().LockByUserID(ctx, b)
		if err != nil {
			return err
		}
		w.Balance = d("11")
		return tx.Wallets().Update(ctx, w)
	}))

	sweep, err := e.coord.ReconcileAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.Checked)
	require.Len(t, sweep.Inconsistent, 1)
	assert.Equal(t, b, sweep.Inconsistent[0].UserID)
	assert.True(t, sweep.Inconsistent[0].Frozen)

	sweep, err = e.coord.ReconcileAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, sweep.Inconsistent, 1)
	assert.True(t, sweep.Inconsistent[0].Repaired)
	e.consistent(t, b)
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "user:b", "user:a", "user:a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "user:a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := k.Lock(context.Background(), "user:c")
	require.NoError(t, err)
	other()

	unlock()
	again, err := k.Lock(context.Background(), "user:a", "user:b")
	require.NoError(t, err)
	again()
	assert.Empty(t, k.slots)
}
