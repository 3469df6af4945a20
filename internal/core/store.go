package core

import (
	"context"
	"time"
)

// GrantFilter narrows access grant queries. Zero values mean "any".
type GrantFilter struct {
	BuyerID     string
	ExpiresFrom time.Time
	ExpiresTo   time.Time
}

// RecordStore is the transactional record store the services run against.
// Reads outside InTx see committed state only and take no locks.
type RecordStore interface {
	// InTx runs fn inside one all-or-nothing transaction. Any error from fn rolls back
	// every write made through tx and is returned unchanged.
	InTx(ctx context.Context, fn func(tx StoreTx) error) error

	GetStockItem(ctx context.Context, id string) (*StockItem, error)
	ListStockItems(ctx context.Context, filter StockFilter) ([]StockItem, error)
	// ListSales returns sales ordered by sold_at descending.
	ListSales(ctx context.Context, filter SaleFilter) ([]SaleRecord, error)
	GetAccessGrant(ctx context.Context, id string) (*AccessGrant, error)
	// ListAccessGrants returns grants ordered by expires_at ascending.
	ListAccessGrants(ctx context.Context, filter GrantFilter) ([]AccessGrant, error)
	// ListRollups returns every seller's rollup ordered by seller id.
	ListRollups(ctx context.Context) ([]AdminRollup, error)
	// GetRollup returns a zero rollup for a seller with no sales.
	GetRollup(ctx context.Context, sellerID string) (*AdminRollup, error)
	GetCommissionSettings(ctx context.Context) (CommissionSettings, error)
}

// StoreTx is the set of reads and writes available inside a transaction.
// Lock* methods take an exclusive row lock held until commit or rollback.
type StoreTx interface {
	LockStockItem(ctx context.Context, id string) (*StockItem, error)
	InsertStockItem(ctx context.Context, item StockItem) error
	// UpdateStockItem writes every mutable column of item if the stored version still
	// equals expectedVersion, otherwise it fails with ErrPersistenceConflict.
	UpdateStockItem(ctx context.Context, item StockItem, expectedVersion int) error
	// DeleteStockItem removes an item under the same version check.
	DeleteStockItem(ctx context.Context, id string, expectedVersion int) error

	InsertSale(ctx context.Context, sale SaleRecord) error
	GetSale(ctx context.Context, id string) (*SaleRecord, error)
	// ListAllSales returns the full ledger ordered by sold_at ascending.
	ListAllSales(ctx context.Context) ([]SaleRecord, error)
	// UpdateSaleCommission rewrites the commission fields of an existing sale.
	UpdateSaleCommission(ctx context.Context, sale SaleRecord) error

	InsertAccessGrant(ctx context.Context, grant AccessGrant) error
	LockAccessGrant(ctx context.Context, id string) (*AccessGrant, error)
	UpdateAccessGrant(ctx context.Context, grant AccessGrant) error

	// AddToRollup folds sale into its seller's rollup and returns the new totals.
	AddToRollup(ctx context.Context, sale SaleRecord) (AdminRollup, error)
	// ReplaceRollups deletes every rollup and writes rollups in their place.
	ReplaceRollups(ctx context.Context, rollups []AdminRollup) error

	// ReadCommissionSettings reads the settings row under a shared lock.
	ReadCommissionSettings(ctx context.Context) (CommissionSettings, error)
	// LockCommissionSettings reads the settings row under an exclusive lock.
	LockCommissionSettings(ctx context.Context) (CommissionSettings, error)
	SaveCommissionSettings(ctx context.Context, settings CommissionSettings) error
}
