package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"qatmarket/internal/coordinator"
	"qatmarket/pkg/logger"
)

type WalletHandler struct {
	coord  *coordinator.Coordinator
	logger logger.Logger
}

func NewWalletHandler(coord *coordinator.Coordinator, log logger.Logger) *WalletHandler {
	return &WalletHandler{coord: coord, logger: log}
}

// Balance handles GET /api/v1/wallet
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	snap, err := h.coord.Balance(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, h.logger, "balance", err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Transactions handles GET /api/v1/wallet/transactions?after=&limit=
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	after := queryInt64(r, "after")
	txs, err := h.coord.Transactions(r.Context(), userID, after, queryInt(r, "limit", 100))
	if err != nil {
		respondDomainError(w, r, h.logger, "transactions", err)
		return
	}

	next := after
	if len(txs) > 0 {
		next = txs[len(txs)-1].Seq
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"next_after":   next,
	})
}

type redeemRequest struct {
	Code string `json:"code"`
}

// Redeem handles POST /api/v1/giftcodes/redeem
func (h *WalletHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.RedeemGiftCode{Code: req.Code, UserID: userID})
	if err != nil {
		respondDomainError(w, r, h.logger, "redeem_gift_code", err)
		return
	}
	respondJSON(w, http.StatusOK, res.Value)
}

type withdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// RequestWithdrawal handles POST /api/v1/withdrawals
func (h *WalletHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.coord.Execute(r.Context(), coordinator.RequestWithdrawal{UserID: userID, Amount: req.Amount})
	if err != nil {
		respondDomainError(w, r, h.logger, "request_withdrawal", err)
		return
	}
	respondJSON(w, http.StatusCreated, res.Value)
}

// Withdrawals handles GET /api/v1/withdrawals
func (h *WalletHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.coord.Withdrawals(r.Context(), userID, queryInt(r, "limit", 50))
	if err != nil {
		respondDomainError(w, r, h.logger, "withdrawals", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": list})
}
