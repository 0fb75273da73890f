package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/metrics"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/models/events"
	"github.com/sheikh-saqib/canteen-payments/internal/storage"
	"github.com/shopspring/decimal"
)

// postCommitTimeout bounds the cart clear and activity write that follow a commit.
const postCommitTimeout = 2 * time.Second

// Stores groups the collaborators the engine orchestrates.
// Activity and Metrics are optional.
type Stores struct {
	Catalog    interfaces.CatalogStore
	Balances   interfaces.BalanceStore
	UnitOfWork interfaces.UnitOfWork
	Ledger     interfaces.LedgerStore
	Carts      interfaces.CartStore
	Activity   interfaces.ActivityLog
	Metrics    *metrics.SettlementMetrics
}

// Engine converts a cart into a paid ledger transaction, or fails leaving
// balance, ledger and cart untouched.
type Engine struct {
	stores Stores
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(stores Stores, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		stores: stores,
		logger: logger,
		now:    time.Now,
	}
}

type SettleRequest struct {
	AccountID      int64
	Cart           models.Cart
	IdempotencyKey string // optional, one per checkout attempt
}

// Settle re-prices the cart, checks the balance and, in one unit of work,
// records the transaction and debits the balance. The debit is conditioned on
// the balance read earlier, so two settlements racing on the same account can
// never both spend it.
//
// On success the cart is cleared. A timeout that fires after commit leaves the
// outcome ambiguous to the caller, who should re-check the balance or retry with
// the same idempotency key instead of retrying blindly.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*models.SettlementResult, error) {
	start := time.Now()
	result, err := e.settle(ctx, req)
	e.observe(req, result, err, time.Since(start))
	return result, err
}

func (e *Engine) settle(ctx context.Context, req SettleRequest) (*models.SettlementResult, error) {
	if req.IdempotencyKey != "" {
		replay, err := e.replay(ctx, req.AccountID, req.IdempotencyKey)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	if len(req.Cart) == 0 {
		return nil, ErrEmptyCart
	}
	if !req.Cart.Valid() {
		return nil, ErrInvalidCart
	}

	items, err := e.reprice(ctx, req.Cart)
	if err != nil {
		return nil, err
	}
	total := models.SumLineItems(items)

	balance, err := e.stores.Balances.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, balanceError(req.AccountID, "get balance", err)
	}

	if balance.LessThan(total) {
		return nil, &InsufficientFundsError{Balance: balance, Total: total}
	}

	tx := &models.Transaction{
		AccountID:      req.AccountID,
		TotalAmount:    total,
		Status:         models.TransactionStatusSuccess,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      e.now().UTC(),
		Items:          items,
	}

	err = e.stores.UnitOfWork.WithinUnitOfWork(ctx, func(stx interfaces.SettlementTx) error {
		id, err := stx.InsertTransaction(ctx, tx)
		if err != nil {
			return err
		}
		applied, err := stx.ConditionalDebit(ctx, req.AccountID, balance, total)
		if err != nil {
			return err
		}
		if !applied {
			return ErrConcurrentModification
		}
		tx.ID = id
		return nil
	})
	if err != nil {
		return e.unitOfWorkFailed(ctx, req, err)
	}

	e.afterCommit(ctx, tx)

	return &models.SettlementResult{
		TransactionID: tx.ID,
		NewBalance:    balance.Sub(total),
		Total:         total,
	}, nil
}

// reprice snapshots the current catalog price of every cart entry in one batch read.
func (e *Engine) reprice(ctx context.Context, cart models.Cart) ([]models.LineItem, error) {
	ids := cart.ItemIDs()
	prices, err := e.stores.Catalog.GetPrices(ctx, ids)
	if err != nil {
		return nil, &StorageError{Op: "get prices", Err: err}
	}

	items := make([]models.LineItem, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		price, ok := prices[id]
		if !ok || !price.Available {
			missing = append(missing, id)
			continue
		}
		items = append(items, models.NewLineItem(id, cart[id], price.Price))
	}
	if len(missing) > 0 {
		return nil, &ItemValidationError{Missing: missing}
	}
	return items, nil
}

func (e *Engine) unitOfWorkFailed(ctx context.Context, req SettleRequest, err error) (*models.SettlementResult, error) {
	switch {
	case errors.Is(err, ErrConcurrentModification):
		return nil, ErrConcurrentModification
	case errors.Is(err, storage.ErrDuplicateSettlement):
		// another attempt with the same key committed first
		replay, rerr := e.replay(ctx, req.AccountID, req.IdempotencyKey)
		if rerr != nil {
			return nil, rerr
		}
		if replay == nil {
			return nil, ErrConcurrentModification
		}
		return replay, nil
	default:
		return nil, balanceError(req.AccountID, "write settlement", err)
	}
}

// replay returns the committed settlement for the key, or nil when there is none.
func (e *Engine) replay(ctx context.Context, accountID int64, key string) (*models.SettlementResult, error) {
	tx, err := e.stores.Ledger.FindByIdempotencyKey(ctx, accountID, key)
	if errors.Is(err, storage.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "find by idempotency key", Err: err}
	}

	balance, err := e.stores.Balances.GetBalance(ctx, accountID)
	if err != nil {
		return nil, balanceError(accountID, "get balance", err)
	}
	return &models.SettlementResult{
		TransactionID: tx.ID,
		NewBalance:    balance,
		Total:         tx.TotalAmount,
		Replayed:      true,
	}, nil
}

// afterCommit runs the side channels of a committed settlement. Neither can
// undo or fail the settlement.
func (e *Engine) afterCommit(ctx context.Context, tx *models.Transaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	if err := e.stores.Carts.Clear(ctx, tx.AccountID); err != nil {
		e.logger.Error("cart clear failed after settlement",
			"account_id", tx.AccountID, "transaction_id", tx.ID, "error", err)
	}

	if e.stores.Activity == nil {
		return
	}
	event := events.OrderSettled{
		EventID:       uuid.NewString(),
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.TotalAmount,
		ItemCount:     len(tx.Items),
		OccurredAt:    tx.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("activity payload encode failed", "transaction_id", tx.ID, "error", err)
		return
	}
	activity := models.Activity{
		EventID:     event.EventID,
		Type:        models.ActivityOrderSettled,
		Description: fmt.Sprintf("New order #TRN-%d completed by student ID %d for %s.", tx.ID, tx.AccountID, tx.TotalAmount.StringFixed(2)),
		AccountID:   tx.AccountID,
		RelatedID:   tx.ID,
		Payload:     payload,
		CreatedAt:   tx.CreatedAt,
	}
	if err := e.stores.Activity.Record(ctx, activity); err != nil {
		e.logger.Warn("activity log write failed",
			"account_id", tx.AccountID, "transaction_id", tx.ID, "error", err)
	}
}

func (e *Engine) observe(req SettleRequest, result *models.SettlementResult, err error, elapsed time.Duration) {
	outcome := Outcome(err)
	e.stores.Metrics.Observe(outcome, elapsed)

	attrs := []any{"account_id", req.AccountID, "outcome", outcome, "duration_ms", elapsed.Milliseconds()}
	switch {
	case err == nil:
		attrs = append(attrs, "transaction_id", result.TransactionID,
			"total", result.Total.StringFixed(2), "new_balance", result.NewBalance.StringFixed(2),
			"replayed", result.Replayed)
		e.logger.Info("order settled", attrs...)
	case errors.Is(err, ErrAccountState), errors.Is(err, ErrStorage):
		e.logger.Error("settlement failed", append(attrs, "error", err)...)
	case errors.Is(err, ErrConcurrentModification):
		e.logger.Warn("settlement failed", append(attrs, "error", err)...)
	default:
		e.logger.Info("settlement rejected", append(attrs, "error", err)...)
	}
}

func balanceError(accountID int64, op string, err error) error {
	if errors.Is(err, storage.ErrAccountNotFound) || errors.Is(err, storage.ErrAccountNotUnique) {
		return &AccountStateError{AccountID: accountID, Err: err}
	}
	return &StorageError{Op: op, Err: err}
}

// Balance exposes the account's current balance to callers such as the HTTP layer.
func (e *Engine) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	balance, err := e.stores.Balances.GetBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, balanceError(accountID, "get balance", err)
	}
	return balance, nil
}
