package app

import (
	"context"
	"time"

	"stock-settlement/internal/core"
)

// ApplicationService is the single interface the CLI adapter calls.
// It resolves the caller, applies permission gates and retries, and returns
// plain result values. Implementations contain no display logic.
type ApplicationService interface {
	// ParseTenure expands a tenure specification into its selectable durations.
	ParseTenure(spec string) (*TenureResult, error)

	// AddStock adds a singleton or pooled item. Owner only.
	AddStock(ctx context.Context, req AddStockRequest) (*core.StockItem, error)

	// UpdateStock edits an item's catalog fields. Owner only. Recorded sales
	// keep the capital and price they were settled at.
	UpdateStock(ctx context.Context, id string, req UpdateStockRequest) (*core.StockItem, error)

	// RemoveStock deletes an item that was never sold or reserved. Owner only.
	RemoveStock(ctx context.Context, id string) error

	// GetStockItem returns one stock item by id.
	GetStockItem(ctx context.Context, id string) (*core.StockItem, error)

	// ListStock returns stock items, optionally filtered by status and product.
	ListStock(ctx context.Context, filter core.StockFilter) (*StockListResult, error)

	// SettleSale records a sale on behalf of the caller. A request with an
	// IdempotencyKey is settled at most once while the key is remembered; a
	// repeat fails with a *DuplicateRequestError naming the first sale.
	SettleSale(ctx context.Context, req SellRequest) (*core.SettlementResult, error)

	// ReserveItem places a hold on a singleton item for the caller.
	ReserveItem(ctx context.Context, itemID string) (*core.StockItem, error)

	// ReleaseItem lifts a hold placed by the caller (or any hold, for the owner).
	ReleaseItem(ctx context.Context, itemID string) (*core.StockItem, error)

	// ExtendAccess adds days to an access grant sold by the caller (any grant, for the owner).
	ExtendAccess(ctx context.Context, grantID string, additionalDays int) (*core.AccessGrant, error)

	// ListSales returns the sale ledger, newest first. Admins only see their own sales.
	ListSales(ctx context.Context, filter core.SaleFilter) (*SalesResult, error)

	// ListRollups returns per-seller rollups. Admins only see their own.
	ListRollups(ctx context.Context) (*RollupsResult, error)

	// ExpiringGrants returns access grants expiring within the window.
	// A non-positive window uses the configured default.
	ExpiringGrants(ctx context.Context, within time.Duration) (*GrantsResult, error)

	// GetCommissionSettings returns the current rate, version and maintenance flag.
	GetCommissionSettings(ctx context.Context) (core.CommissionSettings, error)

	// SetCommissionRate changes the rate used by future settlements. Owner only.
	SetCommissionRate(ctx context.Context, rate string) (core.CommissionSettings, error)

	// RecalculateCommissions rewrites every sale at the current rate. Owner only.
	RecalculateCommissions(ctx context.Context) (*core.RecalculationReport, error)

	// RebuildRollups recomputes all rollups from the sale ledger. Owner only.
	RebuildRollups(ctx context.Context) (*RollupsResult, error)
}

// IdempotencyGuard remembers caller-supplied request tokens.
type IdempotencyGuard interface {
	// Claim marks key as in flight and reports false if it was seen before.
	Claim(ctx context.Context, key string) (bool, error)
	// Complete records the outcome of a claimed key.
	Complete(ctx context.Context, key, result string) error
	// Release forgets a claim whose request failed.
	Release(ctx context.Context, key string) error
	// Lookup returns the recorded result for key, "" if unknown, or the
	// pending marker while the first request is in flight.
	Lookup(ctx context.Context, key string) (string, error)
}
