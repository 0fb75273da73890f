package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// String representation (for logging)
func (s TransactionStatus) String() string {
	return string(s)
}

// Transaction is a settled order as recorded in the ledger.
// ID is assigned by the ledger store on insert.
type Transaction struct {
	ID             int64             `json:"transaction_id"`
	AccountID      int64             `json:"account_id"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey string            `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []LineItem        `json:"items"`
}

// LineItem snapshots the unit price of one catalog item at settlement time.
// It references the catalog by id only.
type LineItem struct {
	TransactionID int64           `json:"transaction_id"`
	ItemID        int64           `json:"item_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

// NewLineItem computes the line total from the snapshotted price.
func NewLineItem(itemID int64, quantity int, unitPrice decimal.Decimal) LineItem {
	return LineItem{
		ItemID:    itemID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// SumLineItems returns Σ unit_price × quantity.
func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
