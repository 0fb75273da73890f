package interfaces

import (
	"context"

	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/shopspring/decimal"
)

type CatalogStore interface {
	// GetPrices returns the current price of every requested item the catalog still lists.
	GetPrices(ctx context.Context, itemIDs []int64) (map[int64]models.CatalogPrice, error)
}

type BalanceStore interface {
	GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
}

// SettlementTx is the write side of a settlement. Every call made through it
// belongs to the same unit of work.
type SettlementTx interface {
	InsertTransaction(ctx context.Context, tx *models.Transaction) (int64, error)
	// ConditionalDebit subtracts amount only if the balance still equals expected
	// and stays non-negative. It reports whether the debit was applied.
	ConditionalDebit(ctx context.Context, accountID int64, expected, amount decimal.Decimal) (bool, error)
}

type UnitOfWork interface {
	// WithinUnitOfWork commits iff fn returns nil; otherwise nothing fn wrote is kept.
	WithinUnitOfWork(ctx context.Context, fn func(SettlementTx) error) error
}

type LedgerStore interface {
	GetTransaction(ctx context.Context, accountID, transactionID int64) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, accountID int64, key string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
}

type CartStore interface {
	Get(ctx context.Context, accountID int64) (models.Cart, error)
	Add(ctx context.Context, accountID, itemID int64) (models.Cart, error)
	Decrease(ctx context.Context, accountID, itemID int64) (models.Cart, error)
	Remove(ctx context.Context, accountID, itemID int64) (models.Cart, error)
	Clear(ctx context.Context, accountID int64) error
}

type ActivityLog interface {
	Record(ctx context.Context, activity models.Activity) error
}

type ActivityOutbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]models.Activity, error)
	MarkPublished(ctx context.Context, id int64) error
}
