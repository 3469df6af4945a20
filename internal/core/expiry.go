package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComputeExpiry returns availedAt + baseDays + extraDays in calendar days.
// The result keeps availedAt's location; a zero availedAt must be defaulted by the caller.
func ComputeExpiry(availedAt time.Time, baseDays, extraDays int) (time.Time, error) {
	if baseDays < 0 {
		return time.Time{}, fmt.Errorf("%w: negative base duration %d", ErrInvalidRequest, baseDays)
	}
	if extraDays < 0 {
		return time.Time{}, fmt.Errorf("%w: negative extra days %d", ErrInvalidRequest, extraDays)
	}
	return availedAt.AddDate(0, 0, baseDays+extraDays), nil
}

// NewAccessGrant builds the rental window for a sale. A zero availedAt defaults to now.
func NewAccessGrant(sale SaleRecord, availedAt time.Time, durationDays, extraDays int, now time.Time) (AccessGrant, error) {
	if availedAt.IsZero() {
		availedAt = now
	}
	expiresAt, err := ComputeExpiry(availedAt, durationDays, extraDays)
	if err != nil {
		return AccessGrant{}, err
	}
	return AccessGrant{
		ID:           uuid.NewString(),
		SaleID:       sale.ID,
		StockItemID:  sale.StockItemID,
		BuyerID:      sale.BuyerID,
		AvailedAt:    availedAt,
		DurationDays: durationDays,
		ExtraDays:    extraDays,
		ExpiresAt:    expiresAt,
		UpdatedAt:    now,
	}, nil
}

// ExtendGrant adds additional days to the stored expiry. It never recomputes
// from AvailedAt, whose zone may have been lost in storage. Expiry never decreases.
func ExtendGrant(grant AccessGrant, additional int, now time.Time) (AccessGrant, error) {
	if additional < 0 {
		return AccessGrant{}, fmt.Errorf("%w: cannot extend by %d days", ErrInvalidExtension, additional)
	}
	expiresAt, err := ComputeExpiry(grant.ExpiresAt, 0, additional)
	if err != nil {
		return AccessGrant{}, err
	}
	next := grant
	next.ExtraDays = grant.ExtraDays + additional
	next.ExpiresAt = expiresAt
	next.UpdatedAt = now
	return next, nil
}
