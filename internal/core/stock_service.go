package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultExpiryWindow is the look-ahead used for expiring access grants.
const DefaultExpiryWindow = 48 * time.Hour

// StockService adds stock and serves the read models of the panel.
type StockService interface {
	AddStock(ctx context.Context, caller Identity, in NewStockItem) (*StockItem, error)
	// UpdateStock edits catalog fields. Sales already recorded keep their capital
	// and price snapshots.
	UpdateStock(ctx context.Context, caller Identity, id string, upd StockUpdate) (*StockItem, error)
	// RemoveStock deletes an item that has never been sold or reserved.
	RemoveStock(ctx context.Context, caller Identity, id string) error
	GetStockItem(ctx context.Context, id string) (*StockItem, error)
	ListStock(ctx context.Context, filter StockFilter) ([]StockItem, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]SaleRecord, error)
	ListRollups(ctx context.Context) ([]AdminRollup, error)
	GetRollup(ctx context.Context, sellerID string) (*AdminRollup, error)
	// ExpiringGrants returns grants expiring within the window from now, soonest first.
	// A non-positive window uses DefaultExpiryWindow.
	ExpiringGrants(ctx context.Context, within time.Duration) ([]AccessGrant, error)
}

type stockService struct {
	store RecordStore
	clock Clock
}

func NewStockService(store RecordStore, clock Clock) StockService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &stockService{store: store, clock: clock}
}

func (s *stockService) AddStock(ctx context.Context, caller Identity, in NewStockItem) (*StockItem, error) {
	if err := RequirePermission(caller, PermManageStock); err != nil {
		return nil, err
	}

	qty := in.Quantity
	if in.Kind == StockKindSingleton && qty == 0 {
		qty = 1
	}
	now := s.clock.Now()
	item := StockItem{
		ID:                uuid.NewString(),
		ProductCode:       in.ProductCode,
		Plan:              in.Plan,
		Kind:              in.Kind,
		Capital:           in.Capital,
		Price:             in.Price,
		Quantity:          qty,
		AvailableQuantity: qty,
		Credentials:       in.Credentials,
		TenureDays:        in.TenureDays,
		Status:            StockStatusAvailable,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	err := s.store.InTx(ctx, func(tx StoreTx) error {
		return tx.InsertStockItem(ctx, item)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add stock item: %w", err)
	}
	return &item, nil
}

func (s *stockService) UpdateStock(ctx context.Context, caller Identity, id string, upd StockUpdate) (*StockItem, error) {
	if err := RequirePermission(caller, PermManageStock); err != nil {
		return nil, err
	}

	var out StockItem
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		item, err := tx.LockStockItem(ctx, id)
		if err != nil {
			return err
		}
		next, err := item.Edit(upd, s.clock.Now())
		if err != nil {
			return err
		}
		if err := tx.UpdateStockItem(ctx, next, item.Version); err != nil {
			return fmt.Errorf("failed to update stock item %s: %w", item.ID, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *stockService) RemoveStock(ctx context.Context, caller Identity, id string) error {
	if err := RequirePermission(caller, PermManageStock); err != nil {
		return err
	}

	return s.store.InTx(ctx, func(tx StoreTx) error {
		item, err := tx.LockStockItem(ctx, id)
		if err != nil {
			return err
		}
		if !item.NeverSold() || item.Status != StockStatusAvailable {
			return fmt.Errorf("%w: item %s is %s with %d of %d left and cannot be removed",
				ErrNotAvailable, item.ID, item.Status, item.AvailableQuantity, item.Quantity)
		}
		if err := tx.DeleteStockItem(ctx, item.ID, item.Version); err != nil {
			return fmt.Errorf("failed to remove stock item %s: %w", item.ID, err)
		}
		return nil
	})
}

func (s *stockService) GetStockItem(ctx context.Context, id string) (*StockItem, error) {
	return s.store.GetStockItem(ctx, id)
}

func (s *stockService) ListStock(ctx context.Context, filter StockFilter) ([]StockItem, error) {
	items, err := s.store.ListStockItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock: %w", err)
	}
	return items, nil
}

func (s *stockService) ListSales(ctx context.Context, filter SaleFilter) ([]SaleRecord, error) {
	sales, err := s.store.ListSales(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, nil
}

func (s *stockService) ListRollups(ctx context.Context) ([]AdminRollup, error) {
	rollups, err := s.store.ListRollups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollups: %w", err)
	}
	return rollups, nil
}

func (s *stockService) GetRollup(ctx context.Context, sellerID string) (*AdminRollup, error) {
	r, err := s.store.GetRollup(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rollup for %s: %w", sellerID, err)
	}
	return r, nil
}

func (s *stockService) ExpiringGrants(ctx context.Context, within time.Duration) ([]AccessGrant, error) {
	if within <= 0 {
		within = DefaultExpiryWindow
	}
	now := s.clock.Now()
	grants, err := s.store.ListAccessGrants(ctx, GrantFilter{ExpiresFrom: now, ExpiresTo: now.Add(within)})
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring grants: %w", err)
	}
	return grants, nil
}
