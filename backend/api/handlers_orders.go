package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alexherrero/sherwood/backend/execution"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlaceOrderRequest is the payload for submitting a new order. Quantity
// and prices travel as decimal strings to avoid float round-trip error.
type PlaceOrderRequest struct {
	ClientOrderID string `json:"client_order_id" validate:"required,uuid"`
	AccountID     string `json:"account_id" validate:"required"`
	Symbol        string `json:"symbol" validate:"required,min=1,max=20"`
	Side          string `json:"side" validate:"required,oneof=BUY SELL"`
	Type          string `json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	Quantity      string `json:"quantity" validate:"required"`
	Price         string `json:"price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	LimitPrice    string `json:"limit_price,omitempty"`
}

// parseDecimalField parses an optional decimal string field, returning the
// zero Decimal when s is empty.
func parseDecimalField(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// PlaceOrderHandler validates and submits a new order.
func (h *Handler) PlaceOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if valErr := validateStruct(req); valErr != nil {
		writeValidationError(w, valErr)
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quantity", "BAD_REQUEST")
		return
	}
	price, err := parseDecimalField(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price", "BAD_REQUEST")
		return
	}
	stopPrice, err := parseDecimalField(req.StopPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stop_price", "BAD_REQUEST")
		return
	}
	limitPrice, err := parseDecimalField(req.LimitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit_price", "BAD_REQUEST")
		return
	}

	order := &models.Order{
		ID:            uuid.New(),
		ClientOrderID: req.ClientOrderID,
		AccountID:     req.AccountID,
		Symbol:        req.Symbol,
		Side:          models.OrderSide(req.Side),
		Type:          models.OrderType(req.Type),
		Quantity:      quantity,
		Price:         price,
		StopPrice:     stopPrice,
		LimitPrice:    limitPrice,
		Status:        models.OrderStatusPending,
	}

	ctx := execution.ContextWithAudit(r.Context(), AuditIPFromCtx(r.Context()), AuditKeyIDFromCtx(r.Context()))
	saved, err := h.engine.Submit(ctx, order)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("order rejected: %v", err), "ORDER_REJECTED")
		return
	}

	if h.metrics != nil {
		h.metrics.RecordOrder(saved.Symbol, string(saved.Side), string(saved.Status))
	}

	status := http.StatusCreated
	if saved.Status == models.OrderStatusRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, saved)
}

// GetOrderHandler returns a single order by ID.
func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required", "BAD_REQUEST")
		return
	}

	order, err := h.repo.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found", "NOT_FOUND")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// CancelOrderHandler cancels an open order.
func (h *Handler) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required", "BAD_REQUEST")
		return
	}

	if _, err := h.repo.GetOrder(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "order not found", "NOT_FOUND")
		return
	}

	if err := h.engine.Cancel(r.Context(), id); err != nil {
		switch err {
		case execution.ErrNotCancelable, execution.ErrOrderTerminal:
			writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled", "id": id})
}

// GetAccountHandler returns the account's balance, open orders, and open
// positions as a single snapshot.
func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account id is required", "BAD_REQUEST")
		return
	}

	balance, err := h.repo.GetAccountState(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	orders, err := h.repo.GetOpenOrders(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	positions, err := h.repo.GetOpenPositions(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"balance":    balance,
		"orders":     orders,
		"positions":  positions,
	})
}

// GetPositionsHandler returns an account's open positions.
func (h *Handler) GetPositionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id query parameter is required", "BAD_REQUEST")
		return
	}
	positions, err := h.repo.GetOpenPositions(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetOrdersHandler returns an account's open orders.
func (h *Handler) GetOrdersHandler(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id query parameter is required", "BAD_REQUEST")
		return
	}
	orders, err := h.repo.GetOpenOrders(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  len(orders),
	})
}
