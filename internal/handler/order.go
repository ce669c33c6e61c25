package handler

import (
	"net/http"

	"qatmarket/internal/coordinator"
	"qatmarket/internal/domain"
	"qatmarket/internal/middleware"
	"qatmarket/internal/notification"
	"qatmarket/internal/order"
	"qatmarket/pkg/logger"
	"qatmarket/pkg/validator"
)

type OrderHandler struct {
	coord  *coordinator.Coordinator
	hub    *notification.Hub
	logger logger.Logger
}

func NewOrderHandler(coord *coordinator.Coordinator, hub *notification.Hub, log logger.Logger) *OrderHandler {
	return &OrderHandler{coord: coord, hub: hub, logger: log}
}

type placeOrderRequest struct {
	Items []order.ItemRequest `json:"items"`
	Wash  bool                `json:"wash"`
	Note  string              `json:"note"`
}

// Place handles POST /api/v1/orders
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := caller(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.coord.Execute(r.Context(), coordinator.PlaceOrder{
		BuyerID: buyerID,
		Items:   req.Items,
		Wash:    req.Wash,
		Note:    validator.Sanitize(req.Note),
	})
	if err != nil {
		respondDomainError(w, r, h.logger, "place_order", err)
		return
	}
	respondJSON(w, http.StatusCreated, res.Value)
}

// Get handles GET /api/v1/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var (
		o   *domain.Order
		err error
	)
	if role, _ := middleware.RoleFromContext(r.Context()); role == middleware.RoleAdmin {
		o, err = h.coord.Order(r.Context(), id)
	} else {
		o, err = h.coord.OrderFor(r.Context(), id, userID)
	}
	if err != nil {
		respondDomainError(w, r, h.logger, "get_order", err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Cancel handles POST /api/v1/orders/{id}/cancel
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.CancelOrder{OrderID: id, Actor: actor(r)})
	if err != nil {
		respondDomainError(w, r, h.logger, "cancel_order", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}

type advanceRequest struct {
	Status string `json:"status"`
}

// Advance handles POST /api/v1/orders/{id}/status. Drivers move orders along
// the delivery path; admins may use it for any permitted target.
func (h *OrderHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req advanceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.AdvanceOrderStatus{
		OrderID: id,
		Target:  domain.OrderStatus(req.Status),
		Actor:   actor(r),
	})
	if err != nil {
		respondDomainError(w, r, h.logger, "advance_order_status", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}

type chatRequest struct {
	Body string `json:"body"`
}

// Chat handles POST /api/v1/orders/{id}/chat
func (h *OrderHandler) Chat(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := h.hub.Chat(r.Context(), from, id, req.Body)
	if err != nil {
		respondDomainError(w, r, h.logger, "chat", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id": ev.ID,
		"to":       ev.UserID,
	})
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

// Availability handles POST /api/v1/driver/availability
func (h *OrderHandler) Availability(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.SetDriverAvailability{
		DriverUserID: userID,
		Available:    req.Available,
	})
	if err != nil {
		respondDomainError(w, r, h.logger, "set_driver_availability", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}
