package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Apply returns the rollup with sale folded in. The sale's amounts are taken as persisted.
func (r AdminRollup) Apply(sale SaleRecord) AdminRollup {
	if r.SellerID == "" {
		r.SellerID = sale.SellerID
	}
	r.SaleCount++
	r.UnitsSold += sale.Quantity
	r.Revenue = r.Revenue.Add(sale.Revenue)
	r.Commission = r.Commission.Add(sale.Commission)
	if r.LastSaleAt == nil || sale.SoldAt.After(*r.LastSaleAt) {
		t := sale.SoldAt
		r.LastSaleAt = &t
	}
	return r
}

// Equal reports whether two rollups carry the same totals.
func (r AdminRollup) Equal(o AdminRollup) bool {
	if r.SellerID != o.SellerID || r.SaleCount != o.SaleCount || r.UnitsSold != o.UnitsSold {
		return false
	}
	if !r.Revenue.Equal(o.Revenue) || !r.Commission.Equal(o.Commission) {
		return false
	}
	return timePtrEqual(r.LastSaleAt, o.LastSaleAt)
}

// FoldRollups recomputes every seller's rollup from the sale ledger, ordered by seller.
func FoldRollups(records []SaleRecord) []AdminRollup {
	bySeller := make(map[string]AdminRollup)
	for _, rec := range records {
		r, ok := bySeller[rec.SellerID]
		if !ok {
			r = AdminRollup{SellerID: rec.SellerID, Revenue: decimal.Zero, Commission: decimal.Zero}
		}
		bySeller[rec.SellerID] = r.Apply(rec)
	}

	rollups := make([]AdminRollup, 0, len(bySeller))
	for _, r := range bySeller {
		rollups = append(rollups, r)
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].SellerID < rollups[j].SellerID })
	return rollups
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
