package core_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-settlement/internal/core"
)

func newSettlement(store *memStore) core.SettlementService {
	return core.NewSettlementService(store, core.FixedClock{T: testNow})
}

func sellReq(itemID string, qty int) core.SettleRequest {
	return core.SettleRequest{
		StockItemID: itemID,
		Quantity:    qty,
		BuyerID:     "buyer-1",
		SellerID:    admin.UserID,
	}
}

func TestSettleSale_Singleton(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(singleton("item-1"))
	svc := newSettlement(store)

	res, err := svc.SettleSale(ctx, sellReq("item-1", 1))
	require.NoError(t, err)

	assert.Equal(t, core.StockStatusSold, res.Item.Status)
	assertDecimal(t, "100", res.Sale.SoldPrice)
	assertDecimal(t, "40", res.Sale.Capital)
	assertDecimal(t, "60", res.Sale.Margin)
	assertDecimal(t, "15", res.Sale.Commission)
	assertDecimal(t, "0.25", res.Sale.CommissionRate)
	assert.Equal(t, 1, res.Sale.SettingsVersion)
	assert.Equal(t, testNow, res.Sale.SoldAt)
	assert.Nil(t, res.Grant)

	assert.Equal(t, 1, res.Rollup.SaleCount)
	assertDecimal(t, "100", res.Rollup.Revenue)

	st := store.snapshot()
	assert.Equal(t, core.StockStatusSold, st.items["item-1"].Status)
	assert.Len(t, st.sales, 1)
	assert.Empty(t, st.grants)
	assert.True(t, st.rollups[admin.UserID].Equal(res.Rollup))
}

func TestSettleSale_OverridePriceAndCapitalSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(pooled("pool-1", 10))
	svc := newSettlement(store)

	req := sellReq("pool-1", 3)
	req.SoldPrice = decimal.NewNullDecimal(dec("30"))
	res, err := svc.SettleSale(ctx, req)
	require.NoError(t, err)
	assertDecimal(t, "90", res.Sale.Revenue)
	assertDecimal(t, "60", res.Sale.Margin)
	assertDecimal(t, "15", res.Sale.Commission)

	// later capital edits must not move historical margins
	item := store.snapshot().items["pool-1"]
	item.Capital = dec("29")
	store.put(item)

	sales, err := store.ListSales(ctx, core.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assertDecimal(t, "10", sales[0].Capital)
}

func TestSettleSale_RentalCreatesGrant(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	item := singleton("rent-1")
	item.TenureDays = 30
	store.put(item)
	svc := newSettlement(store)

	req := sellReq("rent-1", 1)
	req.ExtraDays = 7
	res, err := svc.SettleSale(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Grant)
	assert.Equal(t, time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC), res.Grant.ExpiresAt)
	assert.Equal(t, res.Sale.ID, res.Grant.SaleID)
	assert.Equal(t, "buyer-1", res.Grant.BuyerID)
	assert.Len(t, store.snapshot().grants, 1)
}

func TestSettleSale_DurationOverride(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(singleton("item-1"))
	svc := newSettlement(store)

	req := sellReq("item-1", 1)
	req.DurationDays = 90
	req.AvailedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	res, err := svc.SettleSale(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Grant)
	assert.Equal(t, time.Date(2024, 7, 30, 12, 0, 0, 0, time.UTC), res.Grant.ExpiresAt)
}

func TestSettleSale_ValidationBeforeWrites(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(singleton("item-1"))
	svc := newSettlement(store)

	cases := map[string]func(r *core.SettleRequest){
		"zero quantity":  func(r *core.SettleRequest) { r.Quantity = 0 },
		"no buyer":       func(r *core.SettleRequest) { r.BuyerID = "" },
		"no seller":      func(r *core.SettleRequest) { r.SellerID = "" },
		"negative price": func(r *core.SettleRequest) { r.SoldPrice = decimal.NewNullDecimal(dec("-1")) },
		"negative extra": func(r *core.SettleRequest) { r.ExtraDays = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := sellReq("item-1", 1)
			mutate(&req)
			_, err := svc.SettleSale(ctx, req)
			assert.True(t, errors.Is(err, core.ErrInvalidRequest), "got %v", err)
		})
	}
	assert.Empty(t, store.snapshot().sales)
}

func TestSettleSale_Errors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(pooled("pool-1", 2))
	svc := newSettlement(store)

	_, err := svc.SettleSale(ctx, sellReq("missing", 1))
	assert.True(t, errors.Is(err, core.ErrStockItemNotFound))

	_, err = svc.SettleSale(ctx, sellReq("pool-1", 3))
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))

	res, err := svc.SettleSale(ctx, sellReq("pool-1", 2))
	require.NoError(t, err)
	assert.Equal(t, core.StockStatusSoldOut, res.Item.Status)
	assert.Equal(t, 0, res.Item.AvailableQuantity)
}

func TestSettleSale_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")

	for _, op := range []string{"InsertSale", "InsertAccessGrant", "AddToRollup"} {
		t.Run(op, func(t *testing.T) {
			store := newMemStore()
			item := singleton("item-1")
			item.TenureDays = 30
			store.put(item)
			store.failOn, store.failErr = op, boom

			_, err := newSettlement(store).SettleSale(ctx, sellReq("item-1", 1))
			require.Error(t, err)
			assert.True(t, errors.Is(err, boom), "injected error must surface: %v", err)

			st := store.snapshot()
			assert.Equal(t, core.StockStatusAvailable, st.items["item-1"].Status)
			assert.Empty(t, st.sales)
			assert.Empty(t, st.grants)
			assert.Empty(t, st.rollups)
		})
	}
}

func TestSettleSale_MaintenanceModeIsRetriable(t *testing.T) {
	store := newMemStore()
	store.put(singleton("item-1"))
	store.state.settings.MaintenanceMode = true

	_, err := newSettlement(store).SettleSale(context.Background(), sellReq("item-1", 1))
	assert.True(t, errors.Is(err, core.ErrMaintenanceMode))
	assert.True(t, core.IsRetriable(err))
}

func TestSettleSale_ConcurrentSingleton(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(singleton("item-1"))
	svc := newSettlement(store)

	const workers = 20
	var wg sync.WaitGroup
	var ok, notAvailable, other atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SettleSale(ctx, sellReq("item-1", 1))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, core.ErrNotAvailable):
				notAvailable.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(workers-1), notAvailable.Load())
	assert.Equal(t, int32(0), other.Load())
	assert.Len(t, store.snapshot().sales, 1)
}

func TestSettleSale_ConcurrentPooledNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(pooled("pool-1", 5))
	svc := newSettlement(store)

	var wg sync.WaitGroup
	var ok, insufficient atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SettleSale(ctx, sellReq("pool-1", 3))
			if err == nil {
				ok.Add(1)
			} else if errors.Is(err, core.ErrInsufficientStock) {
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), insufficient.Load())
	item := store.snapshot().items["pool-1"]
	assert.Equal(t, 2, item.AvailableQuantity)
	assert.Equal(t, core.StockStatusAvailable, item.Status)
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.put(singleton("item-1"))
	svc := newSettlement(store)

	held, err := svc.ReserveItem(ctx, admin, "item-1")
	require.NoError(t, err)
	assert.Equal(t, core.StockStatusReserved, held.Status)

	_, err = svc.SettleSale(ctx, sellReq("item-1", 1))
	assert.True(t, errors.Is(err, core.ErrNotAvailable))

	_, err = svc.ReleaseItem(ctx, admin2, "item-1")
	assert.True(t, errors.Is(err, core.ErrForbidden), "another admin cannot lift the hold")

	released, err := svc.ReleaseItem(ctx, owner, "item-1")
	require.NoError(t, err)
	assert.Equal(t, core.StockStatusAvailable, released.Status)

	_, err = svc.ReserveItem(ctx, core.Identity{}, "item-1")
	assert.True(t, errors.Is(err, core.ErrForbidden))
}

func TestExtendAccess(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	item := singleton("rent-1")
	item.TenureDays = 30
	store.put(item)
	svc := newSettlement(store)

	res, err := svc.SettleSale(ctx, sellReq("rent-1", 1))
	require.NoError(t, err)

	extended, err := svc.ExtendAccess(ctx, admin, res.Grant.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, extended.ExtraDays)
	assert.Equal(t, res.Grant.ExpiresAt.AddDate(0, 0, 5), extended.ExpiresAt)

	_, err = svc.ExtendAccess(ctx, admin, res.Grant.ID, -2)
	assert.True(t, errors.Is(err, core.ErrInvalidExtension))

	_, err = svc.ExtendAccess(ctx, admin, "nope", 1)
	assert.True(t, errors.Is(err, core.ErrGrantNotFound))

	stored, err := store.GetAccessGrant(ctx, res.Grant.ID)
	require.NoError(t, err)
	assert.Equal(t, extended.ExpiresAt, stored.ExpiresAt)
}

func TestExtendAccess_OnlySellerOrOwner(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	item := singleton("rent-1")
	item.TenureDays = 30
	store.put(item)
	svc := newSettlement(store)

	res, err := svc.SettleSale(ctx, sellReq("rent-1", 1))
	require.NoError(t, err)

	_, err = svc.ExtendAccess(ctx, admin2, res.Grant.ID, 3)
	assert.True(t, errors.Is(err, core.ErrForbidden), "got %v", err)

	stored, err := store.GetAccessGrant(ctx, res.Grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ExtraDays)

	extended, err := svc.ExtendAccess(ctx, owner, res.Grant.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, extended.ExtraDays)
}
