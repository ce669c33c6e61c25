package notification

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
)

const maxChatBody = 1000

// Chat relays a message between the buyer and the assigned driver of an
// order. Anyone else is refused.
func (h *Hub) Chat(ctx context.Context, from, orderID uuid.UUID, body string) (domain.Event, error) {
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > maxChatBody {
		return domain.Event{}, errors.Validation("chat body must be 1-%d characters", maxChatBody)
	}

	var to uuid.UUID
	err := h.uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		var driverUser uuid.UUID
		if o.DriverID != nil {
			d, err := tx.Drivers().FindByID(ctx, *o.DriverID)
			if err != nil {
				return err
			}
			driverUser = d.UserID
		}

		switch {
		case from == o.BuyerID && driverUser != uuid.Nil:
			to = driverUser
		case from == driverUser && driverUser != uuid.Nil:
			to = o.BuyerID
		default:
			return errors.Transition("user is not a chat participant of order %s", o.OrderCode)
		}
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	ev := domain.NewEvent(to, domain.ChatMessage{OrderID: orderID, FromUserID: from, Body: body}, h.now())
	if err := h.Publish(ctx, []domain.Event{ev}); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}
