// Package coordinator runs every state-changing intent as one serialised,
// atomic unit and hands the committed events to the notification hub.
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/internal/giftcode"
	"qatmarket/internal/ledger"
	"qatmarket/internal/metrics"
	"qatmarket/internal/order"
	"qatmarket/internal/repository"
	"qatmarket/internal/withdrawal"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
	"qatmarket/pkg/validator"
)

// Hub is the part of the notification hub the coordinator drives.
type Hub interface {
	Record(ctx context.Context, tx repository.Tx, events []domain.Event) ([]domain.Event, error)
	Dispatch(events []domain.Event)
	PublishHeld(ctx context.Context, events []domain.Event) error
}

// Result carries the committed events and the intent's primary value.
type Result struct {
	Events []domain.Event
	Value  interface{}
}

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	UnitTimeout time.Duration
}

type Services struct {
	Ledger      *ledger.Service
	Orders      *order.Service
	GiftCodes   *giftcode.Service
	Withdrawals *withdrawal.Service
}

type Coordinator struct {
	uow         repository.UnitOfWork
	ledger      *ledger.Service
	orders      *order.Service
	giftcodes   *giftcode.Service
	withdrawals *withdrawal.Service
	hub         Hub
	locks       *KeyedMutex
	validator   *validator.Validator
	cfg         Config
	logger      logger.Logger
	now         func() time.Time
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithLocks shares a lock table with other writers, such as the hub.
func WithLocks(k *KeyedMutex) Option { return func(c *Coordinator) { c.locks = k } }

func New(uow repository.UnitOfWork, svc Services, hub Hub, cfg Config, log logger.Logger, opts ...Option) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = 10 * time.Second
	}
	c := &Coordinator{
		uow:         uow,
		ledger:      svc.Ledger,
		orders:      svc.Orders,
		giftcodes:   svc.GiftCodes,
		withdrawals: svc.Withdrawals,
		hub:         hub,
		locks:       NewKeyedMutex(),
		validator:   validator.New(),
		cfg:         cfg,
		logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute validates, serialises and commits intent. A caller whose context
// ends before the unit starts gets ctx.Err() and no effect; once started the
// unit runs to commit or rollback regardless of the caller.
func (c *Coordinator) Execute(ctx context.Context, intent Intent) (res *Result, err error) {
	if intent == nil {
		return nil, errors.ErrUnknownIntent
	}
	start := time.Now()
	defer func() {
		metrics.RecordIntent(intent.Name(), outcome(err), time.Since(start))
	}()
	if err := c.validator.Validate(intent); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sc scope
	err = c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var serr error
		sc, serr = intent.scope(ctx, tx)
		return serr
	})
	if err != nil {
		return nil, err
	}

	unlock, err := c.locks.Lock(ctx, sc.keys...)
	if err != nil {
		return nil, err
	}
	defer func() { unlock() }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.UnitTimeout)
	defer cancel()

	var fresh []domain.Event
	for attempt := 1; ; attempt++ {
		res, fresh, err = c.unit(work, intent, sc.keys)
		var moved *scopeMoved
		if errors.As(err, &moved) {
			unlock()
			unlock = func() {}
			if attempt >= c.cfg.MaxAttempts {
				err = errors.ErrTryAgain
				break
			}
			sc = moved.scope
			if unlock, err = c.locks.Lock(work, sc.keys...); err != nil {
				unlock = func() {}
				break
			}
			continue
		}
		if !errors.Is(err, errors.ErrConcurrencyConflict) || errors.Is(err, errors.ErrTryAgain) {
			break
		}
		if attempt >= c.cfg.MaxAttempts {
			c.logger.Warn("Intent kept conflicting", map[string]interface{}{
				"intent":   intent.Name(),
				"attempts": attempt,
			})
			err = errors.ErrTryAgain
			break
		}
		metrics.RecordRetry(intent.Name())
		if !sleep(work, time.Duration(attempt)*c.cfg.RetryDelay) {
			err = errors.ErrTryAgain
			break
		}
	}

	if err != nil {
		if errors.Is(err, errors.ErrIntegrityFault) && !errors.Is(err, errors.ErrWalletFrozen) {
			c.quarantine(work, err, sc.owner)
		}
		return nil, err
	}

	// Dispatch while the keys are still held so pushes for one user enter
	// the hub in commit order.
	c.hub.Dispatch(fresh)
	return res, nil
}

// scopeMoved reports that the intent's keys changed between resolving them
// and taking the locks, as when an order was reassigned to another driver.
type scopeMoved struct {
	scope scope
}

func (*scopeMoved) Error() string { return "intent scope changed while locking" }

func (c *Coordinator) unit(ctx context.Context, intent Intent, held []string) (*Result, []domain.Event, error) {
	var res *Result
	var fresh []domain.Event
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		current, err := intent.scope(ctx, tx)
		if err != nil {
			return err
		}
		if !covers(held, current.keys) {
			return &scopeMoved{scope: current}
		}
		r, err := intent.apply(ctx, c, tx, c.now())
		if err != nil {
			return err
		}
		fresh, err = c.hub.Record(ctx, tx, r.Events)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, fresh, nil
}

// quarantine freezes the affected wallet in its own unit and raises an alert.
func (c *Coordinator) quarantine(ctx context.Context, cause error, owner uuid.UUID) {
	userID := owner
	var ie *ledger.IntegrityError
	if errors.As(cause, &ie) {
		userID = ie.UserID
	}

	metrics.RecordIntegrityFault()
	c.logger.Error("Ledger integrity fault", map[string]interface{}{
		"user_id": userID,
		"error":   cause.Error(),
	})
	if userID == uuid.Nil {
		return
	}

	now := c.now()
	var err error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		err = c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			return c.ledger.Freeze(ctx, tx, userID, cause.Error(), now)
		})
		if !errors.Is(err, errors.ErrConcurrencyConflict) {
			break
		}
	}
	if err != nil {
		c.logger.Error("Failed to freeze wallet", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return
	}

	alert := domain.NewEvent(userID, domain.SystemAlert{
		Severity: "critical",
		Subject:  userID,
		Message:  "Your wallet is frozen pending reconciliation.",
	}, now)
	if err := c.hub.PublishHeld(ctx, []domain.Event{alert}); err != nil {
		c.logger.Error("Failed to publish integrity alert", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.KindOf(err))
}

func (c *Coordinator) walletEvent(ctx context.Context, tx repository.Tx, userID uuid.UUID, posting *ledger.Posting, now time.Time) (domain.Event, error) {
	snap, err := c.ledger.Snapshot(ctx, tx, userID)
	if err != nil {
		return domain.Event{}, err
	}
	p := domain.WalletUpdated{Balance: snap.Balance, Available: snap.Available}
	if posting != nil {
		p.Delta = posting.Transaction.Amount
		p.TxKind = posting.Transaction.Kind
		p.TransactionID = &posting.Transaction.ID
	}
	return domain.NewEvent(userID, p, now), nil
}

func (c *Coordinator) orderResult(ctx context.Context, tx repository.Tx, change *order.Change, now time.Time) (*Result, error) {
	o := change.Order
	p := domain.OrderUpdated{
		OrderID:        o.ID,
		OrderCode:      o.OrderCode,
		Status:         o.Status,
		PrevStatus:     change.Prev,
		DriverID:       o.DriverID,
		Total:          o.Total,
		WashIncomplete: change.WashIncomplete,
	}

	events := []domain.Event{domain.NewEvent(o.BuyerID, p, now)}
	if change.Driver != nil && change.Driver.UserID != o.BuyerID {
		events = append(events, domain.NewEvent(change.Driver.UserID, p, now))
	}
	if change.Posting != nil {
		ev, err := c.walletEvent(ctx, tx, o.BuyerID, change.Posting, now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return &Result{Events: events, Value: o}, nil
}

func (c *Coordinator) withdrawalResult(ctx context.Context, tx repository.Tx, w *domain.Withdrawal, posting *ledger.Posting, now time.Time) (*Result, error) {
	p := domain.WithdrawalStatusChanged{
		WithdrawalID: w.ID,
		Status:       w.Status,
		Amount:       w.Amount,
	}
	if w.Reason != nil {
		p.Reason = *w.Reason
	}
	wallet, err := c.walletEvent(ctx, tx, w.UserID, posting, now)
	if err != nil {
		return nil, err
	}
	return &Result{Events: []domain.Event{domain.NewEvent(w.UserID, p, now), wallet}, Value: w}, nil
}
