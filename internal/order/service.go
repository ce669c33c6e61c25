package order

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/internal/ledger"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
)

type Service struct {
	ledger    *ledger.Service
	catalogue repository.Catalogue
	logger    logger.Logger
}

func NewService(l *ledger.Service, catalogue repository.Catalogue, log logger.Logger) *Service {
	return &Service{ledger: l, catalogue: catalogue, logger: log}
}

type ItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=1000"`
}

// Change describes what one operation did to an order.
type Change struct {
	Order          *domain.Order
	Prev           domain.OrderStatus
	Driver         *domain.Driver
	Posting        *ledger.Posting
	WashIncomplete bool
}

// Reference is the ledger reference shared by an order's purchase and refund.
func Reference(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

func newOrderCode() string {
	return "QM-" + strings.ToUpper(xid.New().String())
}

// Place snapshots catalogue prices, creates the order and debits the purchase.
func (s *Service) Place(ctx context.Context, tx repository.Tx, buyerID uuid.UUID, items []ItemRequest, wash bool, note string, now time.Time) (*Change, error) {
	if len(items) == 0 {
		return nil, errors.Validation("order must contain at least one item")
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, errors.Validation("quantity must be positive")
		}
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalogue.Products(ctx, ids)
	if err != nil {
		return nil, err
	}

	o := &domain.Order{
		ID:        uuid.New(),
		OrderCode: newOrderCode(),
		BuyerID:   buyerID,
		Status:    domain.OrderStatusPending,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}

	total := decimal.Zero
	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, errors.ErrProductNotFound
		}
		if !p.Available {
			return nil, errors.Validation("product %s is not available", p.Name)
		}
		line := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.Items = append(o.Items, domain.OrderItem{
			ID:          uuid.New(),
			OrderID:     o.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
			TotalPrice:  line,
		})
		total = total.Add(line)
	}
	o.Total = total

	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, err
	}
	if wash {
		w := &domain.WashOrder{
			ID:        uuid.New(),
			OrderID:   o.ID,
			Status:    domain.WashStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Orders().CreateWash(ctx, w); err != nil {
			return nil, err
		}
		o.Wash = w
	}

	change := &Change{Order: o}
	if total.IsPositive() {
		change.Posting, err = s.ledger.Debit(ctx, tx, buyerID, total, domain.TransactionKindPurchase, Reference(o.ID), now)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("Order placed", map[string]interface{}{
		"order_id":   o.ID,
		"order_code": o.OrderCode,
		"buyer_id":   buyerID,
		"total":      total.StringFixed(2),
		"wash":       wash,
	})
	return change, nil
}

// AdvanceStatus applies one machine transition. Cancellation is routed to Cancel.
func (s *Service) AdvanceStatus(ctx context.Context, tx repository.Tx, orderID uuid.UUID, target domain.OrderStatus, actor Actor, now time.Time) (*Change, error) {
	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, tx, orderID, actor, now)
	}

	o, err := tx.Orders().LockByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	driver, err := s.lockDriver(ctx, tx, o)
	if err != nil {
		return nil, err
	}

	change := &Change{Order: o, Prev: o.Status, Driver: driver}
	if err := Advance(o, target, actor, driver); err != nil {
		return nil, err
	}

	if target == domain.OrderStatusDelivered {
		driver.Status = domain.DriverStatusAvailable
		driver.UpdatedAt = now
		if err := tx.Drivers().Update(ctx, driver); err != nil {
			return nil, err
		}
		if o.Wash != nil && o.Wash.Status != domain.WashStatusDone {
			change.WashIncomplete = true
			s.logger.Warn("Order delivered with unfinished wash", map[string]interface{}{
				"order_id":    o.ID,
				"order_code":  o.OrderCode,
				"wash_status": o.Wash.Status,
			})
		}
	}

	o.UpdatedAt = now
	if err := tx.Orders().Update(ctx, o); err != nil {
		return nil, err
	}
	return change, nil
}

// Cancel moves a pending or processing order to cancelled, refunds its purchase
// and releases the driver.
func (s *Service) Cancel(ctx context.Context, tx repository.Tx, orderID uuid.UUID, actor Actor, now time.Time) (*Change, error) {
	o, err := tx.Orders().LockByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	driver, err := s.lockDriver(ctx, tx, o)
	if err != nil {
		return nil, err
	}

	change := &Change{Order: o, Prev: o.Status, Driver: driver}
	if err := Advance(o, domain.OrderStatusCancelled, actor, driver); err != nil {
		return nil, err
	}

	if driver != nil {
		driver.Status = domain.DriverStatusAvailable
		driver.UpdatedAt = now
		if err := tx.Drivers().Update(ctx, driver); err != nil {
			return nil, err
		}
	}

	purchase, err := tx.Transactions().FindByReference(ctx, o.BuyerID, domain.TransactionKindPurchase, Reference(o.ID))
	switch {
	case err == nil:
		change.Posting, err = s.ledger.Credit(ctx, tx, o.BuyerID, purchase.Amount.Neg(), domain.TransactionKindRefund, Reference(o.ID), now)
		if err != nil {
			return nil, err
		}
	case !errors.Is(err, errors.ErrNotFound):
		return nil, err
	}

	o.UpdatedAt = now
	if err := tx.Orders().Update(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info("Order cancelled", map[string]interface{}{
		"order_id": o.ID,
		"actor":    actor.Role,
		"refunded": change.Posting != nil,
	})
	return change, nil
}

// AssignDriver attaches an available driver to an order without one.
func (s *Service) AssignDriver(ctx context.Context, tx repository.Tx, orderID, driverID uuid.UUID, actor Actor, now time.Time) (*Change, error) {
	if !actor.privileged() {
		return nil, errors.Transition("%s may not assign drivers", actor.Role)
	}

	o, err := tx.Orders().LockByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusProcessing {
		return nil, errors.Transition("order %s is %s", o.OrderCode, o.Status)
	}
	if o.DriverID != nil {
		return nil, errors.ErrDriverAssigned
	}

	driver, err := tx.Drivers().LockByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver.Status != domain.DriverStatusAvailable {
		return nil, errors.ErrDriverUnavailable
	}

	driver.Status = domain.DriverStatusAssigned
	driver.UpdatedAt = now
	if err := tx.Drivers().Update(ctx, driver); err != nil {
		return nil, err
	}
	o.DriverID = &driver.ID
	o.UpdatedAt = now
	if err := tx.Orders().Update(ctx, o); err != nil {
		return nil, err
	}

	return &Change{Order: o, Prev: o.Status, Driver: driver}, nil
}

// AdvanceWash moves the order's wash one step.
func (s *Service) AdvanceWash(ctx context.Context, tx repository.Tx, orderID uuid.UUID, target domain.WashStatus, actor Actor, now time.Time) (*Change, error) {
	if !actor.privileged() {
		return nil, errors.Transition("%s may not advance wash orders", actor.Role)
	}

	o, err := tx.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	w, err := tx.Orders().LockWash(ctx, orderID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrap(errors.ErrNotFound, "wash order")
	}
	if err != nil {
		return nil, err
	}
	if err := AdvanceWash(w, target); err != nil {
		return nil, err
	}
	w.UpdatedAt = now
	if err := tx.Orders().UpdateWash(ctx, w); err != nil {
		return nil, err
	}
	o.Wash = w

	return &Change{Order: o, Prev: o.Status}, nil
}

// SetDriverAvailability toggles a driver between available and offline.
func (s *Service) SetDriverAvailability(ctx context.Context, tx repository.Tx, driverUserID uuid.UUID, available bool, now time.Time) (*domain.Driver, error) {
	found, err := tx.Drivers().FindByUserID(ctx, driverUserID)
	if err != nil {
		return nil, err
	}
	driver, err := tx.Drivers().LockByID(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if driver.Status == domain.DriverStatusAssigned {
		return nil, errors.Transition("driver %s is on a delivery", driver.Name)
	}

	driver.Status = domain.DriverStatusOffline
	if available {
		driver.Status = domain.DriverStatusAvailable
	}
	driver.UpdatedAt = now
	if err := tx.Drivers().Update(ctx, driver); err != nil {
		return nil, err
	}
	return driver, nil
}

// Flagged lists delivered orders whose wash never finished.
func (s *Service) Flagged(ctx context.Context, tx repository.Tx, limit int) ([]*domain.Order, error) {
	return tx.Orders().ListFlagged(ctx, limit)
}

func (s *Service) lockDriver(ctx context.Context, tx repository.Tx, o *domain.Order) (*domain.Driver, error) {
	if o.DriverID == nil {
		return nil, nil
	}
	return tx.Drivers().LockByID(ctx, *o.DriverID)
}
