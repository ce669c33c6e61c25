package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/internal/giftcode"
	"qatmarket/internal/order"
	"qatmarket/internal/repository"
)

// Intent is a validated request to change state. The set is closed: only
// the types in this file implement it.
type Intent interface {
	Name() string
	// scope resolves the lock keys and the wallet owner before any lock is held.
	scope(ctx context.Context, tx repository.Tx) (scope, error)
	apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error)
}

type scope struct {
	keys  []string
	owner uuid.UUID
}

type PlaceOrder struct {
	BuyerID uuid.UUID           `json:"buyer_id" validate:"required"`
	Items   []order.ItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	Wash    bool                `json:"wash"`
	Note    string              `json:"note" validate:"max=500"`
}

type CancelOrder struct {
	OrderID uuid.UUID   `json:"order_id" validate:"required"`
	Actor   order.Actor `json:"actor"`
}

type AssignDriver struct {
	OrderID  uuid.UUID   `json:"order_id" validate:"required"`
	DriverID uuid.UUID   `json:"driver_id" validate:"required"`
	Actor    order.Actor `json:"actor"`
}

type AdvanceOrderStatus struct {
	OrderID uuid.UUID          `json:"order_id" validate:"required"`
	Target  domain.OrderStatus `json:"target" validate:"required,oneof=processing shipped delivered cancelled"`
	Actor   order.Actor        `json:"actor"`
}

type AdvanceWashOrder struct {
	OrderID uuid.UUID         `json:"order_id" validate:"required"`
	Target  domain.WashStatus `json:"target" validate:"required,oneof=washing done"`
	Actor   order.Actor       `json:"actor"`
}

type SetDriverAvailability struct {
	DriverUserID uuid.UUID `json:"driver_user_id" validate:"required"`
	Available    bool      `json:"available"`
}

type RedeemGiftCode struct {
	Code   string    `json:"code" validate:"required,giftcode"`
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

type IssueGiftCode struct {
	giftcode.IssueRequest
	IssuedBy uuid.UUID `json:"issued_by" validate:"required"`
}

type RequestWithdrawal struct {
	UserID uuid.UUID       `json:"user_id" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0,money"`
}

type ApproveWithdrawal struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id" validate:"required"`
	ReviewerID   uuid.UUID `json:"reviewer_id" validate:"required"`
}

type RejectWithdrawal struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id" validate:"required"`
	ReviewerID   uuid.UUID `json:"reviewer_id" validate:"required"`
	Reason       string    `json:"reason" validate:"required,max=500"`
}

// Deposit credits external funds. Reference is the caller's idempotency key:
// a second deposit with the same reference is rejected.
type Deposit struct {
	UserID    uuid.UUID       `json:"user_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0,money"`
	Reference string          `json:"reference" validate:"required,max=128"`
}

func (PlaceOrder) Name() string            { return "place_order" }
func (CancelOrder) Name() string           { return "cancel_order" }
func (AssignDriver) Name() string          { return "assign_driver" }
func (AdvanceOrderStatus) Name() string    { return "advance_order_status" }
func (AdvanceWashOrder) Name() string      { return "advance_wash_order" }
func (SetDriverAvailability) Name() string { return "set_driver_availability" }
func (RedeemGiftCode) Name() string        { return "redeem_gift_code" }
func (IssueGiftCode) Name() string         { return "issue_gift_code" }
func (RequestWithdrawal) Name() string     { return "request_withdrawal" }
func (ApproveWithdrawal) Name() string     { return "approve_withdrawal" }
func (RejectWithdrawal) Name() string      { return "reject_withdrawal" }
func (Deposit) Name() string               { return "deposit" }

// orderScope covers the order, its buyer's wallet and the current driver.
func orderScope(ctx context.Context, tx repository.Tx, orderID uuid.UUID, extra ...string) (scope, error) {
	o, err := tx.Orders().FindByID(ctx, orderID)
	if err != nil {
		return scope{}, err
	}
	keys := append([]string{orderKey(o.ID), userKey(o.BuyerID)}, extra...)
	if o.DriverID != nil {
		keys = append(keys, driverKey(*o.DriverID))
	}
	return scope{keys: keys, owner: o.BuyerID}, nil
}

func withdrawalScope(ctx context.Context, tx repository.Tx, id uuid.UUID) (scope, error) {
	w, err := tx.Withdrawals().FindByID(ctx, id)
	if err != nil {
		return scope{}, err
	}
	return scope{keys: []string{withdrawalKey(w.ID), userKey(w.UserID)}, owner: w.UserID}, nil
}

func (i PlaceOrder) scope(context.Context, repository.Tx) (scope, error) {
	return scope{keys: []string{userKey(i.BuyerID)}, owner: i.BuyerID}, nil
}

func (i CancelOrder) scope(ctx context.Context, tx repository.Tx) (scope, error) {
	return orderScope(ctx, tx, i.OrderID)
}

func (i AssignDriver) scope(ctx context.Context, tx repository.Tx) (scope, error) {
	return orderScope(ctx, tx, i.OrderID, driverKey(i.DriverID))
}

func (i AdvanceOrderStatus) scope(ctx context.Context, tx repository.Tx) (scope, error) {
	return orderScope(ctx, tx, i.OrderID)
}

func (i AdvanceWashOrder) scope(ctx context.Context, tx repository.Tx) (scope, error) {
	return orderScope(ctx, tx, i.OrderID)
}

func (i SetDriverAvailability) scope(ctx context.Context, tx repository.Tx) (scope, error) {
	d, err := tx.Drivers().FindByUserID(ctx, i.DriverUserID)
	if err != nil {
		return scope{}, err
	}
	return scope{keys: []string{driverKey(d.ID)}}, nil
}

func (i RedeemGiftCode) scope(context.Context, repository.Tx) (scope, error) {
	return scope{keys: []string{giftCodeKey(i.Code), userKey(i.UserID)}, owner: i.UserID}, nil
}

func (i IssueGiftCode) scope(context.Context, repository.Tx) (scope, error) {
	if i.Code == "" {
		return scope{}, nil
	}
	return scope{keys: []string{giftCodeKey(i.Code)}}, nil
}

func (i RequestWithdrawal) scope(context.Context, repository.Tx) (scope, error) {
	return scope{keys: []string{userKey(i.UserID)}, owner: i.UserID}, nil
}

func (i ApproveWithdrawal) scope(ctx context.Context, tx repository.Tx) (scope, error) {
	return withdrawalScope(ctx, tx, i.WithdrawalID)
}

func (i RejectWithdrawal) scope(ctx context.Context, tx repository.Tx) (scope, error) {
	return withdrawalScope(ctx, tx, i.WithdrawalID)
}

func (i Deposit) scope(context.Context, repository.Tx) (scope, error) {
	return scope{keys: []string{userKey(i.UserID)}, owner: i.UserID}, nil
}

func (i PlaceOrder) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	change, err := c.orders.Place(ctx, tx, i.BuyerID, i.Items, i.Wash, i.Note, now)
	if err != nil {
		return nil, err
	}
	return c.orderResult(ctx, tx, change, now)
}

func (i CancelOrder) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	change, err := c.orders.Cancel(ctx, tx, i.OrderID, i.Actor, now)
	if err != nil {
		return nil, err
	}
	return c.orderResult(ctx, tx, change, now)
}

func (i AssignDriver) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	change, err := c.orders.AssignDriver(ctx, tx, i.OrderID, i.DriverID, i.Actor, now)
	if err != nil {
		return nil, err
	}
	return c.orderResult(ctx, tx, change, now)
}

func (i AdvanceOrderStatus) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	change, err := c.orders.AdvanceStatus(ctx, tx, i.OrderID, i.Target, i.Actor, now)
	if err != nil {
		return nil, err
	}
	return c.orderResult(ctx, tx, change, now)
}

func (i AdvanceWashOrder) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	change, err := c.orders.AdvanceWash(ctx, tx, i.OrderID, i.Target, i.Actor, now)
	if err != nil {
		return nil, err
	}
	return c.orderResult(ctx, tx, change, now)
}

func (i SetDriverAvailability) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	d, err := c.orders.SetDriverAvailability(ctx, tx, i.DriverUserID, i.Available, now)
	if err != nil {
		return nil, err
	}
	return &Result{Value: d}, nil
}

func (i RedeemGiftCode) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	r, err := c.giftcodes.Redeem(ctx, tx, i.Code, i.UserID, now)
	if err != nil {
		return nil, err
	}
	wallet, err := c.walletEvent(ctx, tx, i.UserID, r.Posting, now)
	if err != nil {
		return nil, err
	}
	redeemed := domain.NewEvent(i.UserID, domain.GiftCodeRedeemed{
		Code:          r.Code.Code,
		Amount:        r.Code.Amount,
		RemainingUses: r.Code.RemainingUses,
	}, now)
	return &Result{Events: []domain.Event{redeemed, wallet}, Value: r}, nil
}

func (i IssueGiftCode) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	g, err := c.giftcodes.Issue(ctx, tx, i.IssueRequest, now)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Gift code issued", map[string]interface{}{
		"code":      giftcode.Mask(g.Code),
		"issued_by": i.IssuedBy,
		"max_uses":  g.MaxUses,
	})
	return &Result{Value: g}, nil
}

func (i RequestWithdrawal) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	w, err := c.withdrawals.Request(ctx, tx, i.UserID, i.Amount, now)
	if err != nil {
		return nil, err
	}
	return c.withdrawalResult(ctx, tx, w, nil, now)
}

func (i ApproveWithdrawal) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	d, err := c.withdrawals.Approve(ctx, tx, i.WithdrawalID, i.ReviewerID, now)
	if err != nil {
		return nil, err
	}
	return c.withdrawalResult(ctx, tx, d.Withdrawal, d.Posting, now)
}

func (i RejectWithdrawal) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	d, err := c.withdrawals.Reject(ctx, tx, i.WithdrawalID, i.ReviewerID, i.Reason, now)
	if err != nil {
		return nil, err
	}
	return c.withdrawalResult(ctx, tx, d.Withdrawal, nil, now)
}

func (i Deposit) apply(ctx context.Context, c *Coordinator, tx repository.Tx, now time.Time) (*Result, error) {
	posting, err := c.ledger.Credit(ctx, tx, i.UserID, i.Amount, domain.TransactionKindDeposit, "deposit:"+i.Reference, now)
	if err != nil {
		return nil, err
	}
	ev, err := c.walletEvent(ctx, tx, i.UserID, posting, now)
	if err != nil {
		return nil, err
	}
	return &Result{Events: []domain.Event{ev}, Value: posting.Transaction}, nil
}
