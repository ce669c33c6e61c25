package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/coordinator"
	"qatmarket/internal/domain"
	"qatmarket/internal/giftcode"
	"qatmarket/pkg/logger"
)

// AdminHandler serves the back-office routes. Routing restricts it to the
// admin role.
type AdminHandler struct {
	coord  *coordinator.Coordinator
	logger logger.Logger
}

func NewAdminHandler(coord *coordinator.Coordinator, log logger.Logger) *AdminHandler {
	return &AdminHandler{coord: coord, logger: log}
}

// FlaggedOrders handles GET /api/v1/admin/orders/flagged
func (h *AdminHandler) FlaggedOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.coord.FlaggedOrders(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		respondDomainError(w, r, h.logger, "flagged_orders", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": list})
}

type assignRequest struct {
	DriverID uuid.UUID `json:"driver_id"`
}

// AssignDriver handles POST /api/v1/admin/orders/{id}/driver
func (h *AdminHandler) AssignDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.AssignDriver{OrderID: id, DriverID: req.DriverID, Actor: actor(r)})
	if err != nil {
		respondDomainError(w, r, h.logger, "assign_driver", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}

// AdvanceWash handles POST /api/v1/admin/orders/{id}/wash
func (h *AdminHandler) AdvanceWash(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req advanceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.AdvanceWashOrder{
		OrderID: id,
		Target:  domain.WashStatus(req.Status),
		Actor:   actor(r),
	})
	if err != nil {
		respondDomainError(w, r, h.logger, "advance_wash_order", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}

type depositRequest struct {
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// Deposit handles POST /api/v1/admin/deposits
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.Deposit{
		UserID:    req.UserID,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		respondDomainError(w, r, h.logger, "deposit", err)
		return
	}
	respondJSON(w, http.StatusCreated, res.Value)
}

type issueRequest struct {
	Code      string          `json:"code"`
	Amount    decimal.Decimal `json:"amount"`
	MaxUses   int             `json:"max_uses"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// IssueGiftCode handles POST /api/v1/admin/giftcodes
func (h *AdminHandler) IssueGiftCode(w http.ResponseWriter, r *http.Request) {
	adminID, ok := caller(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.IssueGiftCode{
		IssueRequest: giftcode.IssueRequest{
			Code:      req.Code,
			Amount:    req.Amount,
			MaxUses:   req.MaxUses,
			ExpiresAt: req.ExpiresAt,
		},
		IssuedBy: adminID,
	})
	if err != nil {
		respondDomainError(w, r, h.logger, "issue_gift_code", err)
		return
	}
	respondJSON(w, http.StatusCreated, res.Value)
}

// ApproveWithdrawal handles POST /api/v1/admin/withdrawals/{id}/approve
func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.ApproveWithdrawal{WithdrawalID: id, ReviewerID: adminID})
	if err != nil {
		respondDomainError(w, r, h.logger, "approve_withdrawal", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectWithdrawal handles POST /api/v1/admin/withdrawals/{id}/reject
func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.RejectWithdrawal{WithdrawalID: id, ReviewerID: adminID, Reason: req.Reason})
	if err != nil {
		respondDomainError(w, r, h.logger, "reject_withdrawal", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}

// Reconcile handles POST /api/v1/admin/wallets/{user}/reconcile?repair=true
// An inconsistent wallet comes back with 423 and its report.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "user")
	if !ok {
		return
	}
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))

	report, err := h.coord.Reconcile(r.Context(), userID, repair)
	if err != nil && report == nil {
		respondDomainError(w, r, h.logger, "reconcile", err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	respondJSON(w, status, report)
}

// ReconcileAll handles POST /api/v1/admin/reconcile?repair=true
func (h *AdminHandler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))
	sweep, err := h.coord.ReconcileAll(r.Context(), repair)
	if err != nil {
		respondDomainError(w, r, h.logger, "reconcile_all", err)
		return
	}
	respondJSON(w, http.StatusOK, sweep)
}
