package models

import "github.com/shopspring/decimal"

// SettlementResult is returned by a successful (or replayed) settlement.
type SettlementResult struct {
	TransactionID int64
	NewBalance    decimal.Decimal
	Total         decimal.Decimal
	Replayed      bool // an earlier settlement with the same idempotency key was returned
}
