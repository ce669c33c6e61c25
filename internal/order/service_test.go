package order

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qatmarket/internal/domain"
	"qatmarket/internal/ledger"
	"qatmarket/internal/repository"
	"qatmarket/internal/repository/memory"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	ledger *ledger.Service
	svc    *Service
	buyer  uuid.UUID
	soap   repository.Product
	towel  repository.Product
	driver *domain.Driver
}

func setup(t *testing.T, funds string) *fixture {
	t.Helper()
	store := memory.New()
	l := ledger.NewService(true, logger.NewNop())
	f := &fixture{
		store:  store,
		ledger: l,
		svc:    NewService(l, store, logger.NewNop()),
		buyer:  uuid.New(),
		soap:   repository.Product{ID: uuid.New(), Name: "Soap", Price: decimal.RequireFromString("3.50"), Available: true},
		towel:  repository.Product{ID: uuid.New(), Name: "Towel", Price: decimal.RequireFromString("12.00"), Available: true},
		driver: &domain.Driver{ID: uuid.New(), UserID: uuid.New(), Name: "Sam", Status: domain.DriverStatusAvailable},
	}
	store.PutProduct(f.soap)
	store.PutProduct(f.towel)

	require.NoError(t, f.do(func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Drivers().Create(ctx, f.driver); err != nil {
			return err
		}
		if funds == "" {
			return nil
		}
		_, err := l.Credit(ctx, tx, f.buyer, decimal.RequireFromString(funds), domain.TransactionKindDeposit, "", now)
		return err
	}))
	return f
}

func (f *fixture) do(fn func(ctx context.Context, tx repository.Tx) error) error {
	return f.store.Do(context.Background(), fn)
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, f.do(func(ctx context.Context, tx repository.Tx) error {
		var err error
		bal, err = f.ledger.CurrentBalance(ctx, tx, f.buyer)
		return err
	}))
	return bal
}

func (f *fixture) place(t *testing.T, wash bool) *domain.Order {
	t.Helper()
	var change *Change
	require.NoError(t, f.do(func(ctx context.Context, tx repository.Tx) error {
		var err error
		change, err = f.svc.Place(ctx, tx, f.buyer, []ItemRequest{
			{ProductID: f.soap.ID, Quantity: 2},
			{ProductID: f.towel.ID, Quantity: 1},
		}, wash, "", now)
		return err
	}))
	return change.Order
}

func (f *fixture) advance(o *domain.Order, to domain.OrderStatus, actor Actor) (*Change, error) {
	var change *Change
	err := f.do(func(ctx context.Context, tx repository.Tx) error {
		var err error
		change, err = f.svc.AdvanceStatus(ctx, tx, o.ID, to, actor, now)
		return err
	})
	return change, err
}

func (f *fixture) assign(o *domain.Order) error {
	return f.do(func(ctx context.Context, tx repository.Tx) error {
		_, err := f.svc.AssignDriver(ctx, tx, o.ID, f.driver.ID, System, now)
		return err
	})
}

func TestPlace_SnapshotsPricesAndDebits(t *testing.T) {
	f := setup(t, "50")
	o := f.place(t, true)

	assert.True(t, strings.HasPrefix(o.OrderCode, "QM-"))
	assert.True(t, o.Total.Equal(decimal.RequireFromString("19.00")))
	require.Len(t, o.Items, 2)
	assert.True(t, o.Items[0].TotalPrice.Equal(decimal.RequireFromString("7.00")))
	require.NotNil(t, o.Wash)
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("31.00")))

	// Price changes later do not alter the order.
	f.soap.Price = decimal.NewFromInt(100)
	f.store.PutProduct(f.soap)
	_ = f.do(func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.Orders().FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("3.50")))
		return nil
	})
}

func TestPlace_InsufficientFundsLeavesNothing(t *testing.T) {
	f := setup(t, "5")
	err := f.do(func(ctx context.Context, tx repository.Tx) error {
		_, err := f.svc.Place(ctx, tx, f.buyer, []ItemRequest{{ProductID: f.towel.ID, Quantity: 1}}, false, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(5)))
}

func TestPlace_Validation(t *testing.T) {
	f := setup(t, "50")
	err := f.do(func(ctx context.Context, tx repository.Tx) error {
		_, err := f.svc.Place(ctx, tx, f.buyer, nil, false, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrValidation)

	err = f.do(func(ctx context.Context, tx repository.Tx) error {
		_, err := f.svc.Place(ctx, tx, f.buyer, []ItemRequest{{ProductID: uuid.New(), Quantity: 1}}, false, "", now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrProductNotFound)
}

func TestCancel_RefundsAndReleasesDriver(t *testing.T) {
	f := setup(t, "50")
	o := f.place(t, false)
	require.NoError(t, f.assign(o))

	change, err := f.advance(o, domain.OrderStatusCancelled, Actor{RoleBuyer, f.buyer})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, change.Order.Status)
	assert.Equal(t, domain.OrderStatusPending, change.Prev)
	require.NotNil(t, change.Posting)
	assert.Equal(t, domain.TransactionKindRefund, change.Posting.Transaction.Kind)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(50)))

	_ = f.do(func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.Drivers().FindByID(ctx, f.driver.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DriverStatusAvailable, d.Status)
		return nil
	})

	_, err = f.advance(o, domain.OrderStatusCancelled, System)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(50)), "refund happens once")
}

func TestLifecycle_DeliveryFlagsUnfinishedWash(t *testing.T) {
	f := setup(t, "50")
	o := f.place(t, true)
	driverActor := Actor{RoleDriver, f.driver.UserID}

	_, err := f.advance(o, domain.OrderStatusProcessing, System)
	require.NoError(t, err)
	_, err = f.advance(o, domain.OrderStatusShipped, driverActor)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition, "no driver yet")

	require.NoError(t, f.assign(o))
	_, err = f.advance(o, domain.OrderStatusShipped, driverActor)
	require.NoError(t, err)

	change, err := f.advance(o, domain.OrderStatusDelivered, driverActor)
	require.NoError(t, err)
	assert.True(t, change.WashIncomplete)
	assert.Equal(t, domain.DriverStatusAvailable, change.Driver.Status)

	_ = f.do(func(ctx context.Context, tx repository.Tx) error {
		flagged, err := f.svc.Flagged(ctx, tx, 10)
		require.NoError(t, err)
		require.Len(t, flagged, 1)
		assert.Equal(t, o.ID, flagged[0].ID)
		return nil
	})
}

func TestAssignDriver_Rules(t *testing.T) {
	f := setup(t, "100")
	first := f.place(t, false)
	second := f.place(t, false)

	require.NoError(t, f.assign(first))
	assert.ErrorIs(t, f.assign(first), errors.ErrDriverAssigned)
	assert.ErrorIs(t, f.assign(second), errors.ErrDriverUnavailable)

	err := f.do(func(ctx context.Context, tx repository.Tx) error {
		_, err := f.svc.AssignDriver(ctx, tx, second.ID, f.driver.ID, Actor{RoleBuyer, f.buyer}, now)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestAdvanceWashAndAvailability(t *testing.T) {
	f := setup(t, "100")
	o := f.place(t, true)

	wash := func(to domain.WashStatus) error {
		return f.do(func(ctx context.Context, tx repository.Tx) error {
			_, err := f.svc.AdvanceWash(ctx, tx, o.ID, to, System, now)
			return err
		})
	}
	require.NoError(t, wash(domain.WashStatusWashing))
	require.NoError(t, wash(domain.WashStatusDone))
	assert.ErrorIs(t, wash(domain.WashStatusDone), errors.ErrInvalidTransition)

	setAvail := func(available bool) error {
		return f.do(func(ctx context.Context, tx repository.Tx) error {
			_, err := f.svc.SetDriverAvailability(ctx, tx, f.driver.UserID, available, now)
			return err
		})
	}
	require.NoError(t, setAvail(false))
	require.NoError(t, setAvail(true))
	require.NoError(t, f.assign(o))
	assert.ErrorIs(t, setAvail(false), errors.ErrInvalidTransition)
}
