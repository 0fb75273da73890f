package models

import "github.com/shopspring/decimal"

// CatalogPrice is the current price and availability of one menu item.
type CatalogPrice struct {
	ItemID    int64           `json:"item_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}
