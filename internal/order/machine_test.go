package order

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

func TestAdvance_Table(t *testing.T) {
	buyer := uuid.New()
	driverUser := uuid.New()
	driver := &domain.Driver{ID: uuid.New(), UserID: driverUser}

	tests := []struct {
		name   string
		from   domain.OrderStatus
		to     domain.OrderStatus
		actor  Actor
		driver *domain.Driver
		ok     bool
	}{
		{"admin processes", domain.OrderStatusPending, domain.OrderStatusProcessing, Actor{RoleAdmin, uuid.New()}, nil, true},
		{"system processes", domain.OrderStatusPending, domain.OrderStatusProcessing, System, nil, true},
		{"buyer cannot process", domain.OrderStatusPending, domain.OrderStatusProcessing, Actor{RoleBuyer, buyer}, nil, false},
		{"driver ships", domain.OrderStatusProcessing, domain.OrderStatusShipped, Actor{RoleDriver, driverUser}, driver, true},
		{"other driver cannot ship", domain.OrderStatusProcessing, domain.OrderStatusShipped, Actor{RoleDriver, uuid.New()}, driver, false},
		{"ship without driver", domain.OrderStatusProcessing, domain.OrderStatusShipped, Actor{RoleDriver, driverUser}, nil, false},
		{"driver delivers", domain.OrderStatusShipped, domain.OrderStatusDelivered, Actor{RoleDriver, driverUser}, driver, true},
		{"buyer cancels pending", domain.OrderStatusPending, domain.OrderStatusCancelled, Actor{RoleBuyer, buyer}, nil, true},
		{"other buyer cannot cancel", domain.OrderStatusPending, domain.OrderStatusCancelled, Actor{RoleBuyer, uuid.New()}, nil, false},
		{"admin cancels processing", domain.OrderStatusProcessing, domain.OrderStatusCancelled, Actor{RoleAdmin, uuid.New()}, nil, true},
		{"cannot cancel shipped", domain.OrderStatusShipped, domain.OrderStatusCancelled, System, nil, false},
		{"delivered is terminal", domain.OrderStatusDelivered, domain.OrderStatusShipped, System, nil, false},
		{"cannot skip to delivered", domain.OrderStatusPending, domain.OrderStatusDelivered, System, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &domain.Order{OrderCode: "QM-T", BuyerID: buyer, Status: tt.from}
			if tt.driver != nil {
				o.DriverID = &tt.driver.ID
			}
			err := Advance(o, tt.to, tt.actor, tt.driver)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, o.Status)
			} else {
				assert.ErrorIs(t, err, errors.ErrInvalidTransition)
				assert.Equal(t, tt.from, o.Status)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(domain.OrderStatusPending, domain.OrderStatusCancelled))
	assert.False(t, CanTransition(domain.OrderStatusCancelled, domain.OrderStatusPending))
}

func TestAdvanceWash(t *testing.T) {
	w := &domain.WashOrder{Status: domain.WashStatusPending}
	assert.ErrorIs(t, AdvanceWash(w, domain.WashStatusDone), errors.ErrInvalidTransition)
	assert.NoError(t, AdvanceWash(w, domain.WashStatusWashing))
	assert.NoError(t, AdvanceWash(w, domain.WashStatusDone))
	assert.ErrorIs(t, AdvanceWash(w, domain.WashStatusDone), errors.ErrInvalidTransition)
}
