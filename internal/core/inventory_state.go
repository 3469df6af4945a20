package core

import (
	"fmt"
	"time"
)

// Validate checks the structural invariants of a stock item.
func (s StockItem) Validate() error {
	if s.ProductCode == "" {
		return fmt.Errorf("%w: product code is required", ErrInvalidRequest)
	}
	if s.Capital.IsNegative() || s.Price.IsNegative() {
		return fmt.Errorf("%w: capital and price must be non-negative", ErrInvalidRequest)
	}
	if s.TenureDays < 0 {
		return fmt.Errorf("%w: tenure days must be non-negative", ErrInvalidRequest)
	}
	if s.AvailableQuantity < 0 || s.AvailableQuantity > s.Quantity {
		return fmt.Errorf("%w: available quantity %d outside [0, %d]", ErrInvalidRequest, s.AvailableQuantity, s.Quantity)
	}

	switch s.Kind {
	case StockKindSingleton:
		if s.Quantity != 1 {
			return fmt.Errorf("%w: singleton quantity must be 1, got %d", ErrInvalidRequest, s.Quantity)
		}
		sold := s.Status == StockStatusSold
		if sold != (s.AvailableQuantity == 0) {
			return fmt.Errorf("%w: singleton status %s inconsistent with available quantity %d", ErrInvalidRequest, s.Status, s.AvailableQuantity)
		}
		if s.Status == StockStatusSoldOut {
			return fmt.Errorf("%w: singleton cannot be sold_out", ErrInvalidRequest)
		}
	case StockKindPooled:
		if s.Quantity <= 0 {
			return fmt.Errorf("%w: pooled quantity must be positive", ErrInvalidRequest)
		}
		if s.Credentials != nil {
			return fmt.Errorf("%w: pooled stock cannot carry credentials", ErrInvalidRequest)
		}
		soldOut := s.Status == StockStatusSoldOut
		if soldOut != (s.AvailableQuantity == 0) {
			return fmt.Errorf("%w: pooled status %s inconsistent with available quantity %d", ErrInvalidRequest, s.Status, s.AvailableQuantity)
		}
		if s.Status == StockStatusReserved || s.Status == StockStatusSold {
			return fmt.Errorf("%w: pooled stock cannot be %s", ErrInvalidRequest, s.Status)
		}
	default:
		return fmt.Errorf("%w: unknown stock kind %q", ErrInvalidRequest, s.Kind)
	}
	return nil
}

// Reserve places a hold on a singleton item for holder.
func (s StockItem) Reserve(holder string, now time.Time) (StockItem, error) {
	if holder == "" {
		return StockItem{}, fmt.Errorf("%w: reservation holder is required", ErrInvalidRequest)
	}
	if s.Kind != StockKindSingleton {
		return StockItem{}, fmt.Errorf("%w: item %s: only singleton items can be reserved", ErrNotAvailable, s.ID)
	}
	if s.Status != StockStatusAvailable {
		return StockItem{}, fmt.Errorf("%w: item %s is %s", ErrNotAvailable, s.ID, s.Status)
	}
	next := s
	next.Status = StockStatusReserved
	next.ReservedBy = holder
	return next.touch(now), nil
}

// Release returns a reserved singleton item to available.
func (s StockItem) Release(now time.Time) (StockItem, error) {
	if s.Kind != StockKindSingleton {
		return StockItem{}, fmt.Errorf("%w: item %s: only singleton items can be released", ErrNotAvailable, s.ID)
	}
	if s.Status != StockStatusReserved {
		return StockItem{}, fmt.Errorf("%w: item %s is %s, not reserved", ErrNotAvailable, s.ID, s.Status)
	}
	next := s
	next.Status = StockStatusAvailable
	next.ReservedBy = ""
	return next.touch(now), nil
}

// Sell applies a sale of quantity units to buyerID.
// Singletons move to sold; pooled items decrement and become sold_out at zero.
func (s StockItem) Sell(quantity int, buyerID string, now time.Time) (StockItem, error) {
	if quantity <= 0 {
		return StockItem{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidRequest, quantity)
	}
	if s.Status != StockStatusAvailable {
		return StockItem{}, fmt.Errorf("%w: item %s is %s", ErrNotAvailable, s.ID, s.Status)
	}
	if quantity > s.AvailableQuantity {
		return StockItem{}, fmt.Errorf("%w: item %s has %d available, requested %d", ErrInsufficientStock, s.ID, s.AvailableQuantity, quantity)
	}

	next := s
	next.AvailableQuantity -= quantity
	switch s.Kind {
	case StockKindSingleton:
		next.Status = StockStatusSold
		next.BuyerID = buyerID
	case StockKindPooled:
		if next.AvailableQuantity == 0 {
			next.Status = StockStatusSoldOut
		}
	default:
		return StockItem{}, fmt.Errorf("%w: unknown stock kind %q", ErrInvalidRequest, s.Kind)
	}
	return next.touch(now), nil
}

// Edit applies a catalog update. Quantities, status and holders are not editable here.
func (s StockItem) Edit(upd StockUpdate, now time.Time) (StockItem, error) {
	if upd.IsEmpty() {
		return StockItem{}, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}
	if upd.ExpectedVersion != 0 && upd.ExpectedVersion != s.Version {
		return StockItem{}, fmt.Errorf("%w: item %s is at version %d, not %d", ErrStaleVersion, s.ID, s.Version, upd.ExpectedVersion)
	}
	next := s
	if upd.ProductCode != nil {
		next.ProductCode = *upd.ProductCode
	}
	if upd.Plan != nil {
		next.Plan = *upd.Plan
	}
	if upd.Capital.Valid {
		next.Capital = upd.Capital.Decimal
	}
	if upd.Price.Valid {
		next.Price = upd.Price.Decimal
	}
	if upd.TenureDays != nil {
		next.TenureDays = *upd.TenureDays
	}
	if upd.Credentials != nil {
		c := *upd.Credentials
		next.Credentials = &c
	}
	if err := next.Validate(); err != nil {
		return StockItem{}, err
	}
	return next.touch(now), nil
}

// NeverSold reports whether no unit of the item has been sold.
func (s StockItem) NeverSold() bool {
	return s.AvailableQuantity == s.Quantity && s.Status != StockStatusSold && s.Status != StockStatusSoldOut
}

func (s StockItem) touch(now time.Time) StockItem {
	s.Version++
	s.UpdatedAt = now
	return s
}
