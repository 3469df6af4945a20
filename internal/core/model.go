package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockKind distinguishes one-off credentials from quantity pools.
type StockKind string

const (
	// StockKindSingleton is one set of account credentials sold exactly once.
	StockKindSingleton StockKind = "singleton"
	// StockKindPooled is a quantity of interchangeable units (invites, seats, codes).
	StockKindPooled StockKind = "pooled"
)

// StockStatus is the lifecycle state of a StockItem.
//
//	available → reserved → available   (singletons only)
//	available → sold                   (singletons)
//	available → available | sold_out   (pooled, quantity decrement)
type StockStatus string

const (
	StockStatusAvailable StockStatus = "available"
	StockStatusReserved  StockStatus = "reserved"
	StockStatusSold      StockStatus = "sold"
	StockStatusSoldOut   StockStatus = "sold_out"
)

// Credentials are the login details handed to the buyer of a singleton item.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Profile  string `json:"profile,omitempty"`
	PIN      string `json:"pin,omitempty"`
}

// StockItem is one sellable unit or quantity pool of a resellable digital account.
// Capital and Price are per unit. TenureDays > 0 marks a rental-style product whose
// sale creates an AccessGrant.
type StockItem struct {
	ID                string          `json:"id"`
	ProductCode       string          `json:"product_code"`
	Plan              string          `json:"plan"`
	Kind              StockKind       `json:"kind"`
	Capital           decimal.Decimal `json:"capital"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	AvailableQuantity int             `json:"available_quantity"`
	Credentials       *Credentials    `json:"credentials,omitempty"`
	TenureDays        int             `json:"tenure_days"`
	Status            StockStatus     `json:"status"`
	BuyerID           string          `json:"buyer_id,omitempty"`
	ReservedBy        string          `json:"reserved_by,omitempty"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsRental reports whether selling the item grants time-limited access.
func (s StockItem) IsRental() bool {
	return s.TenureDays > 0
}

// SaleRecord is one completed settlement. Capital is snapshotted from the stock row
// at sale time so later capital edits do not change historical margins.
// SoldPrice and Capital are per unit; Revenue, Margin and Commission cover the whole quantity.
type SaleRecord struct {
	ID              string          `json:"id"`
	StockItemID     string          `json:"stock_item_id"`
	SellerID        string          `json:"seller_id"`
	BuyerID         string          `json:"buyer_id"`
	Quantity        int             `json:"quantity"`
	SoldPrice       decimal.Decimal `json:"sold_price"`
	Capital         decimal.Decimal `json:"capital"`
	Revenue         decimal.Decimal `json:"revenue"`
	Margin          decimal.Decimal `json:"margin"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	Commission      decimal.Decimal `json:"commission"`
	SettingsVersion int             `json:"settings_version"`
	Notes           string          `json:"notes,omitempty"`
	SoldAt          time.Time       `json:"sold_at"`
}

// AccessGrant is the buyer-facing rental window of a sold rental-style item.
type AccessGrant struct {
	ID           string    `json:"id"`
	SaleID       string    `json:"sale_id"`
	StockItemID  string    `json:"stock_item_id"`
	BuyerID      string    `json:"buyer_id"`
	AvailedAt    time.Time `json:"availed_at"`
	DurationDays int       `json:"duration_days"`
	ExtraDays    int       `json:"extra_days"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdminRollup is the per-seller aggregate of the sale ledger.
type AdminRollup struct {
	SellerID   string          `json:"seller_id"`
	SaleCount  int             `json:"sale_count"`
	UnitsSold  int             `json:"units_sold"`
	Revenue    decimal.Decimal `json:"revenue"`
	Commission decimal.Decimal `json:"commission"`
	LastSaleAt *time.Time      `json:"last_sale_at,omitempty"`
}

// CommissionSettings is the versioned, process-wide commission configuration.
// MaintenanceMode is set while a recalculation job rewrites historical records.
type CommissionSettings struct {
	Rate            decimal.Decimal `json:"rate"`
	Version         int             `json:"version"`
	MaintenanceMode bool            `json:"maintenance_mode"`
	UpdatedAt       time.Time       `json:"updated_at"`
	UpdatedBy       string          `json:"updated_by,omitempty"`
}

// NewStockItem is the input for adding stock to the inventory.
// Singletons always carry Quantity 1; a zero Quantity on a singleton is accepted as 1.
type NewStockItem struct {
	ProductCode string
	Plan        string
	Kind        StockKind
	Capital     decimal.Decimal
	Price       decimal.Decimal
	Quantity    int
	Credentials *Credentials
	TenureDays  int
}

// StockUpdate edits the catalog fields of a stock item. Nil and invalid fields
// are left unchanged. A non-zero ExpectedVersion must equal the stored version.
type StockUpdate struct {
	ProductCode     *string
	Plan            *string
	Capital         decimal.NullDecimal
	Price           decimal.NullDecimal
	TenureDays      *int
	Credentials     *Credentials
	ExpectedVersion int
}

// IsEmpty reports whether the update changes nothing.
func (u StockUpdate) IsEmpty() bool {
	return u.ProductCode == nil && u.Plan == nil && !u.Capital.Valid && !u.Price.Valid &&
		u.TenureDays == nil && u.Credentials == nil
}

// StockFilter narrows ListStock. Zero values mean "any".
type StockFilter struct {
	Status      StockStatus
	ProductCode string
}

// SaleFilter narrows ListSales. Zero values mean "any".
type SaleFilter struct {
	SellerID    string
	StockItemID string
	Since       time.Time
}
