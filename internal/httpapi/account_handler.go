package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/settlement"
	"github.com/sheikh-saqib/canteen-payments/internal/storage"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type AccountHandler struct {
	engine *settlement.Engine
	ledger interfaces.LedgerStore
	logger *slog.Logger
}

func NewAccountHandler(engine *settlement.Engine, ledger interfaces.LedgerStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		engine: engine,
		ledger: ledger,
		logger: logger,
	}
}

type BalanceResponseDTO struct {
	AccountID int64  `json:"account_id"`
	Balance   string `json:"balance"`
}

type TransactionsResponseDTO struct {
	Transactions []models.Transaction `json:"transactions"`
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	balance, err := h.engine.Balance(r.Context(), accountID)
	if errors.Is(err, settlement.ErrAccountState) {
		respondError(w, http.StatusNotFound, "account_state", "Could not find unique NFC card for user.")
		return
	}
	if err != nil {
		h.logger.Error("failed to read balance", "account_id", accountID, "error", err)
		respondError(w, http.StatusInternalServerError, "storage_error", "Could not read balance.")
		return
	}

	respondJSON(w, http.StatusOK, BalanceResponseDTO{
		AccountID: accountID,
		Balance:   balance.StringFixed(2),
	})
}

func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	txs, err := h.ledger.ListTransactions(r.Context(), accountID, limit)
	if err != nil {
		h.logger.Error("failed to list transactions", "account_id", accountID, "error", err)
		respondError(w, http.StatusInternalServerError, "storage_error", "Could not load order history.")
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	respondJSON(w, http.StatusOK, TransactionsResponseDTO{Transactions: txs})
}

func (h *AccountHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	txID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || txID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_transaction_id", "transaction id must be a positive integer")
		return
	}

	tx, err := h.ledger.GetTransaction(r.Context(), accountID, txID)
	if errors.Is(err, storage.ErrTransactionNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "Order not found.")
		return
	}
	if err != nil {
		h.logger.Error("failed to load transaction", "account_id", accountID, "transaction_id", txID, "error", err)
		respondError(w, http.StatusInternalServerError, "storage_error", "Could not load order.")
		return
	}
	respondJSON(w, http.StatusOK, tx)
}
