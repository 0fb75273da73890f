package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/settlement"
)

const IdempotencyHeader = "Idempotency-Key"

type OrderHandler struct {
	engine *settlement.Engine
	carts  interfaces.CartStore
	logger *slog.Logger
}

func NewOrderHandler(engine *settlement.Engine, carts interfaces.CartStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: engine,
		carts:  carts,
		logger: logger,
	}
}

type SettleResponseDTO struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	NewBalance    *string `json:"new_balance"`
	TransactionID int64   `json:"transaction_id,omitempty"`
	Replayed      bool    `json:"replayed,omitempty"`
	Code          string  `json:"code,omitempty"`
}

// Settle pays for the caller's cart. When the request times out the outcome
// is unknown to the client, which should re-check its balance or retry with
// the same Idempotency-Key.
func (h *OrderHandler) Settle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := accountIDFromContext(ctx)

	cart, err := h.carts.Get(ctx, accountID)
	if err != nil {
		h.logger.Error("failed to load cart", "account_id", accountID, "error", err)
		respondError(w, http.StatusInternalServerError, "storage_error", "An error occurred during order processing.")
		return
	}

	result, err := h.engine.Settle(ctx, settlement.SettleRequest{
		AccountID:      accountID,
		Cart:           cart,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		status, resp := settleFailure(err)
		respondJSON(w, status, resp)
		return
	}

	balance := result.NewBalance.StringFixed(2)
	respondJSON(w, http.StatusOK, SettleResponseDTO{
		Success:       true,
		Message:       "Order accepted and balance updated.",
		NewBalance:    &balance,
		TransactionID: result.TransactionID,
		Replayed:      result.Replayed,
	})
}

// settleFailure maps a settlement error to the HTTP status and body shown to the student.
func settleFailure(err error) (int, SettleResponseDTO) {
	resp := SettleResponseDTO{Code: settlement.Outcome(err)}

	var insufficient *settlement.InsufficientFundsError
	switch {
	case errors.Is(err, settlement.ErrEmptyCart):
		resp.Message = "Order failed: Your cart is empty."
		return http.StatusBadRequest, resp
	case errors.Is(err, settlement.ErrInvalidCart):
		resp.Message = "Order failed: Your cart contains an invalid quantity."
		return http.StatusBadRequest, resp
	case errors.As(err, &insufficient):
		balance := insufficient.Balance.StringFixed(2)
		resp.Message = "Insufficient balance. Please recharge your card."
		resp.NewBalance = &balance
		return http.StatusPaymentRequired, resp
	case errors.Is(err, settlement.ErrItemValidationMismatch):
		resp.Message = "Order failed: Error validating items in your cart."
		return http.StatusConflict, resp
	case errors.Is(err, settlement.ErrConcurrentModification):
		resp.Message = "Order failed: Your balance changed while the order was processing. Please try again."
		return http.StatusConflict, resp
	case errors.Is(err, settlement.ErrAccountState):
		resp.Message = "Order failed: Could not find unique NFC card for user."
		return http.StatusInternalServerError, resp
	default:
		resp.Message = "An error occurred during order processing."
		return http.StatusInternalServerError, resp
	}
}
