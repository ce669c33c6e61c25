package coordinator

import (
	"context"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/internal/ledger"
	"qatmarket/internal/metrics"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
)

const reconcilePage = 200

func (c *Coordinator) Balance(ctx context.Context, userID uuid.UUID) (*ledger.Snapshot, error) {
	var snap *ledger.Snapshot
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		snap, err = c.ledger.Snapshot(ctx, tx, userID)
		return err
	})
	return snap, err
}

// Transactions pages through a user's ledger in sequence order.
func (c *Coordinator) Transactions(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*domain.Transaction
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Transactions().ListByUser(ctx, userID, afterSeq, limit)
		return err
	})
	return out, err
}

func (c *Coordinator) Withdrawals(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Withdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.Withdrawal
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = tx.Withdrawals().ListByUser(ctx, userID, limit)
		return err
	})
	return out, err
}

func (c *Coordinator) Order(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o *domain.Order
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		o, err = tx.Orders().FindByID(ctx, id)
		return err
	})
	return o, err
}

// OrderFor returns the order when userID may see it: its buyer, or the user
// behind its assigned driver. Anyone else gets ErrOrderNotFound.
func (c *Coordinator) OrderFor(ctx context.Context, id, userID uuid.UUID) (*domain.Order, error) {
	var o *domain.Order
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if o, err = tx.Orders().FindByID(ctx, id); err != nil {
			return err
		}
		if o.BuyerID == userID {
			return nil
		}
		if o.DriverID != nil {
			d, err := tx.Drivers().FindByID(ctx, *o.DriverID)
			if err == nil && d.UserID == userID {
				return nil
			}
		}
		return errors.ErrOrderNotFound
	})
	return o, err
}

// FlaggedOrders lists delivered orders whose wash never finished.
func (c *Coordinator) FlaggedOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*domain.Order
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = c.orders.Flagged(ctx, tx, limit)
		return err
	})
	return out, err
}

// Reconcile checks one wallet under its user lock. An inconsistent wallet is
// frozen, or rewritten from the ledger when repair is set.
func (c *Coordinator) Reconcile(ctx context.Context, userID uuid.UUID, repair bool) (*ledger.Report, error) {
	unlock, err := c.locks.Lock(ctx, userKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var report *ledger.Report
	var fault error
	err = c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var rerr error
		report, rerr = c.ledger.Reconcile(ctx, tx, userID)
		if report != nil && errors.Is(rerr, errors.ErrIntegrityFault) {
			fault = rerr
			return nil
		}
		return rerr
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordReconcile(fault == nil)
	if fault == nil && !(repair && report.Frozen) {
		return report, nil
	}

	if repair && report.ChainValid {
		var repaired *ledger.Report
		err = c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			var rerr error
			repaired, rerr = c.ledger.Repair(ctx, tx, userID, c.now())
			return rerr
		})
		if err != nil {
			return report, err
		}
		return repaired, nil
	}

	if fault == nil {
		return report, nil
	}
	if !report.Frozen {
		c.quarantine(ctx, fault, userID)
		report.Frozen = true
	}
	return report, fault
}

// Sweep summarises a ReconcileAll run.
type Sweep struct {
	Checked      int              `json:"checked"`
	Inconsistent []*ledger.Report `json:"inconsistent"`
	Failed       int              `json:"failed"`
}

// ReconcileAll walks every wallet. Per-wallet faults are collected in the
// sweep rather than stopping it.
func (c *Coordinator) ReconcileAll(ctx context.Context, repair bool) (*Sweep, error) {
	sweep := &Sweep{}
	for offset := 0; ; offset += reconcilePage {
		var ids []uuid.UUID
		err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			ids, err = tx.Wallets().ListUserIDs(ctx, reconcilePage, offset)
			return err
		})
		if err != nil {
			return sweep, err
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return sweep, err
			}
			sweep.Checked++
			report, err := c.Reconcile(ctx, id, repair)
			switch {
			case err == nil && report.Repaired:
				sweep.Inconsistent = append(sweep.Inconsistent, report)
			case err == nil:
			case errors.Is(err, errors.ErrIntegrityFault) && report != nil:
				sweep.Inconsistent = append(sweep.Inconsistent, report)
			default:
				sweep.Failed++
				c.logger.Error("Reconcile failed", map[string]interface{}{
					"user_id": id,
					"error":   err.Error(),
				})
			}
		}
		if len(ids) < reconcilePage {
			break
		}
	}

	c.logger.Info("Reconciliation sweep finished", map[string]interface{}{
		"checked":      sweep.Checked,
		"inconsistent": len(sweep.Inconsistent),
		"failed":       sweep.Failed,
		"repair":       repair,
	})
	return sweep, nil
}
