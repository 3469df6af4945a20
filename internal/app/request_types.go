package app

import (
	"time"

	"github.com/shopspring/decimal"

	"stock-settlement/internal/core"
)

// AddStockRequest is the input for adding stock. Tenure is an optional tenure
// specification ("30 days", "1-3 months"); its first choice becomes the
// item's default rental duration.
type AddStockRequest struct {
	ProductCode string
	Plan        string
	Kind        core.StockKind
	Capital     decimal.Decimal
	Price       decimal.Decimal
	Quantity    int
	Credentials *core.Credentials
	Tenure      string
}

// SellRequest is the input for a settlement. The seller is always the caller.
type SellRequest struct {
	StockItemID  string
	Quantity     int
	SoldPrice    decimal.NullDecimal
	BuyerID      string
	DurationDays int
	ExtraDays    int
	AvailedAt    time.Time
	Notes        string
	// IdempotencyKey is optional; empty disables duplicate detection.
	IdempotencyKey string
}

// UpdateStockRequest edits catalog fields of a stock item. Nil or invalid
// fields are left unchanged. Tenure, when set, replaces the default rental
// duration with the first choice of the specification. ExpectedVersion, when
// non-zero, rejects the edit if the item changed since it was read.
type UpdateStockRequest struct {
	ProductCode     *string
	Plan            *string
	Capital         decimal.NullDecimal
	Price           decimal.NullDecimal
	Tenure          *string
	Credentials     *core.Credentials
	ExpectedVersion int
}
