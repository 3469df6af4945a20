package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettleRequest is the input of a settlement. SellerID is stamped by the caller
// from the authenticated identity, never taken from user input.
type SettleRequest struct {
	StockItemID string
	Quantity    int
	// SoldPrice is the per-unit price; when not Valid the item's list price is used.
	SoldPrice decimal.NullDecimal
	BuyerID   string
	SellerID  string
	// DurationDays overrides the item's tenure for rental-style items. Zero keeps the item's tenure.
	DurationDays int
	ExtraDays    int
	// AvailedAt defaults to the clock's now.
	AvailedAt time.Time
	Notes     string
}

// Validate checks the request shape. It runs before any store access.
func (r SettleRequest) Validate() error {
	if r.StockItemID == "" {
		return fmt.Errorf("%w: stock item id is required", ErrInvalidRequest)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidRequest, r.Quantity)
	}
	if r.SoldPrice.Valid && r.SoldPrice.Decimal.IsNegative() {
		return fmt.Errorf("%w: sold price must be non-negative", ErrInvalidRequest)
	}
	if r.BuyerID == "" {
		return fmt.Errorf("%w: buyer is required", ErrInvalidRequest)
	}
	if r.SellerID == "" {
		return fmt.Errorf("%w: seller is required", ErrInvalidRequest)
	}
	if r.DurationDays < 0 {
		return fmt.Errorf("%w: duration days must be non-negative", ErrInvalidRequest)
	}
	if r.ExtraDays < 0 {
		return fmt.Errorf("%w: extra days must be non-negative", ErrInvalidRequest)
	}
	return nil
}

// SettlementResult is the full set of state produced by one settlement.
type SettlementResult struct {
	Item   StockItem
	Sale   SaleRecord
	Grant  *AccessGrant
	Rollup AdminRollup
}

// SettlementService converts available stock into recorded sales.
type SettlementService interface {
	// SettleSale performs one atomic sale: one inventory mutation, one sale record,
	// zero or one access grant and one rollup upsert. Re-invoking it with the same
	// request records a second sale.
	SettleSale(ctx context.Context, req SettleRequest) (*SettlementResult, error)

	// ReserveItem places a hold on a singleton item for the caller.
	ReserveItem(ctx context.Context, caller Identity, itemID string) (*StockItem, error)
	// ReleaseItem lifts a hold. Only the holder or a stock manager may release.
	ReleaseItem(ctx context.Context, caller Identity, itemID string) (*StockItem, error)
	// ExtendAccess adds days to an access grant. Expiry never decreases. Only the
	// seller of the grant's sale or a stock manager may extend it.
	ExtendAccess(ctx context.Context, caller Identity, grantID string, additionalDays int) (*AccessGrant, error)
}

type settlementService struct {
	store RecordStore
	clock Clock
}

func NewSettlementService(store RecordStore, clock Clock) SettlementService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &settlementService{store: store, clock: clock}
}

func (s *settlementService) SettleSale(ctx context.Context, req SettleRequest) (*SettlementResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result SettlementResult
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		settings, err := tx.ReadCommissionSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to read commission settings: %w", err)
		}
		if settings.MaintenanceMode {
			return ErrMaintenanceMode
		}

		item, err := tx.LockStockItem(ctx, req.StockItemID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		next, err := item.Sell(req.Quantity, req.BuyerID, now)
		if err != nil {
			return err
		}

		price := item.Price
		if req.SoldPrice.Valid {
			price = req.SoldPrice.Decimal
		}
		split, err := CalculateSaleCommission(price, item.Capital, req.Quantity, settings.Rate)
		if err != nil {
			return err
		}
		split = split.Rounded()

		sale := SaleRecord{
			ID:              uuid.NewString(),
			StockItemID:     item.ID,
			SellerID:        req.SellerID,
			BuyerID:         req.BuyerID,
			Quantity:        req.Quantity,
			SoldPrice:       price,
			Capital:         item.Capital,
			Revenue:         split.Revenue,
			Margin:          split.Margin,
			CommissionRate:  settings.Rate,
			Commission:      split.Commission,
			SettingsVersion: settings.Version,
			Notes:           req.Notes,
			SoldAt:          now,
		}

		var grant *AccessGrant
		duration := req.DurationDays
		if duration == 0 {
			duration = item.TenureDays
		}
		if duration > 0 {
			g, err := NewAccessGrant(sale, req.AvailedAt, duration, req.ExtraDays, now)
			if err != nil {
				return err
			}
			grant = &g
		}

		// All validation is done; writes start here.
		if err := tx.UpdateStockItem(ctx, next, item.Version); err != nil {
			return fmt.Errorf("failed to update stock item %s: %w", item.ID, err)
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}
		if grant != nil {
			if err := tx.InsertAccessGrant(ctx, *grant); err != nil {
				return fmt.Errorf("failed to insert access grant: %w", err)
			}
		}
		rollup, err := tx.AddToRollup(ctx, sale)
		if err != nil {
			return fmt.Errorf("failed to update rollup for seller %s: %w", sale.SellerID, err)
		}

		result = SettlementResult{Item: next, Sale: sale, Grant: grant, Rollup: rollup}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *settlementService) ReserveItem(ctx context.Context, caller Identity, itemID string) (*StockItem, error) {
	if err := RequirePermission(caller, PermReserve); err != nil {
		return nil, err
	}

	var out StockItem
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		item, err := tx.LockStockItem(ctx, itemID)
		if err != nil {
			return err
		}
		next, err := item.Reserve(caller.UserID, s.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdateStockItem(ctx, next, item.Version); err != nil {
			return fmt.Errorf("failed to reserve stock item %s: %w", item.ID, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *settlementService) ReleaseItem(ctx context.Context, caller Identity, itemID string) (*StockItem, error) {
	if err := RequirePermission(caller, PermReserve); err != nil {
		return nil, err
	}

	var out StockItem
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		item, err := tx.LockStockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Status == StockStatusReserved && item.ReservedBy != caller.UserID && !caller.Can(PermManageStock) {
			return fmt.Errorf("%w: item %s is held by another seller", ErrForbidden, item.ID)
		}
		next, err := item.Release(s.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdateStockItem(ctx, next, item.Version); err != nil {
			return fmt.Errorf("failed to release stock item %s: %w", item.ID, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *settlementService) ExtendAccess(ctx context.Context, caller Identity, grantID string, additionalDays int) (*AccessGrant, error) {
	if err := RequirePermission(caller, PermExtendAccess); err != nil {
		return nil, err
	}
	if additionalDays < 0 {
		return nil, fmt.Errorf("%w: cannot extend by %d days", ErrInvalidExtension, additionalDays)
	}

	var out AccessGrant
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		grant, err := tx.LockAccessGrant(ctx, grantID)
		if err != nil {
			return err
		}
		if !caller.Can(PermManageStock) {
			sale, err := tx.GetSale(ctx, grant.SaleID)
			if err != nil {
				return err
			}
			if sale.SellerID != caller.UserID {
				return fmt.Errorf("%w: grant %s belongs to a sale by another seller", ErrForbidden, grant.ID)
			}
		}
		next, err := ExtendGrant(*grant, additionalDays, s.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdateAccessGrant(ctx, next); err != nil {
			return fmt.Errorf("failed to extend access grant %s: %w", grant.ID, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
