// Package order owns the order lifecycle: placement, the status machine,
// driver assignment and the wash sub-workflow.
package order

import (
	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor is who asks for a change.
type Actor struct {
	Role   Role      `json:"role" validate:"required,oneof=buyer driver admin system"`
	UserID uuid.UUID `json:"user_id"`
}

// System is the actor used by scheduled and internal work.
var System = Actor{Role: RoleSystem}

func (a Actor) privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

type edge struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

// transitions lists every legal edge and the roles allowed to take it.
// Buyer and driver roles are further narrowed to the order's own buyer and
// assigned driver.
var transitions = map[edge][]Role{
	{domain.OrderStatusPending, domain.OrderStatusProcessing}:   {RoleAdmin, RoleSystem},
	{domain.OrderStatusProcessing, domain.OrderStatusShipped}:   {RoleDriver},
	{domain.OrderStatusShipped, domain.OrderStatusDelivered}:    {RoleDriver},
	{domain.OrderStatusPending, domain.OrderStatusCancelled}:    {RoleBuyer, RoleAdmin, RoleSystem},
	{domain.OrderStatusProcessing, domain.OrderStatusCancelled}: {RoleBuyer, RoleAdmin, RoleSystem},
}

// CanTransition reports whether from -> to is an edge of the machine.
func CanTransition(from, to domain.OrderStatus) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

// Advance validates and applies target to o. driver is the assigned driver,
// nil when none.
func Advance(o *domain.Order, target domain.OrderStatus, actor Actor, driver *domain.Driver) error {
	roles, ok := transitions[edge{o.Status, target}]
	if !ok {
		return errors.Transition("order %s cannot move from %s to %s", o.OrderCode, o.Status, target)
	}
	if !allowed(roles, actor.Role) {
		return errors.Transition("%s may not move order %s to %s", actor.Role, o.OrderCode, target)
	}

	switch actor.Role {
	case RoleBuyer:
		if actor.UserID != o.BuyerID {
			return errors.Transition("order %s belongs to another buyer", o.OrderCode)
		}
	case RoleDriver:
		if driver == nil || o.DriverID == nil {
			return errors.Transition("order %s has no assigned driver", o.OrderCode)
		}
		if driver.ID != *o.DriverID || driver.UserID != actor.UserID {
			return errors.Transition("order %s is assigned to another driver", o.OrderCode)
		}
	}

	o.Status = target
	return nil
}

func allowed(roles []Role, r Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

var washNext = map[domain.WashStatus]domain.WashStatus{
	domain.WashStatusPending: domain.WashStatusWashing,
	domain.WashStatusWashing: domain.WashStatusDone,
}

// AdvanceWash moves w one step along pending -> washing -> done.
func AdvanceWash(w *domain.WashOrder, target domain.WashStatus) error {
	if next, ok := washNext[w.Status]; !ok || next != target {
		return errors.Transition("wash order cannot move from %s to %s", w.Status, target)
	}
	w.Status = target
	return nil
}
