package app

import (
	"github.com/shopspring/decimal"

	"stock-settlement/internal/core"
)

// TenureResult is the expansion of one tenure specification.
type TenureResult struct {
	Spec    core.TenureSpec
	Choices []core.TenureChoice
}

// StockListResult holds a filtered stock listing.
type StockListResult struct {
	Items []core.StockItem
}

// SalesResult holds a sale listing with its totals.
type SalesResult struct {
	Sales      []core.SaleRecord
	Revenue    decimal.Decimal
	Commission decimal.Decimal
}

// RollupsResult holds per-seller rollups ordered by seller id.
type RollupsResult struct {
	Rollups []core.AdminRollup
}

// GrantsResult holds access grants ordered by expiry, soonest first.
type GrantsResult struct {
	Grants []core.AccessGrant
}
