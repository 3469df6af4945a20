package sqlite_test

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
	"go.uber.org/zap"

	"stock-settlement/internal/core"
	"stock-settlement/internal/db"
	"stock-settlement/internal/store/sqlite"
)

var (
	now   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	owner = core.Identity{UserID: "owner-1", Role: core.RoleOwner}
	admin = core.Identity{UserID: "admin-1", Role: core.RoleAdmin}
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, ":memory:", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = db.MigrateSQLite(ctx, conn, zap.NewNop())
	require.NoError(t, err)
	return sqlite.New(conn)
}

func addStock(t *testing.T, store core.RecordStore, in core.NewStockItem) *core.StockItem {
	t.Helper()
	item, err := core.NewStockService(store, core.FixedClock{T: now}).AddStock(context.Background(), owner, in)
	require.NoError(t, err)
	return item
}

func TestStockRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	item := addStock(t, store, core.NewStockItem{
		ProductCode: "NETFLIX",
		Plan:        "premium",
		Kind:        core.StockKindSingleton,
		Capital:     decimal.RequireFromString("40"),
		Price:       decimal.RequireFromString("100.50"),
		Credentials: &core.Credentials{Email: "n@example.com", Password: "pw", Profile: "2"},
		TenureDays:  30,
	})

	got, err := store.GetStockItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ProductCode, got.ProductCode)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, item.Credentials, got.Credentials)
	assert.Equal(t, core.StockKindSingleton, got.Kind)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = store.GetStockItem(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrStockItemNotFound))

	settings, err := store.GetCommissionSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.Rate.Equal(core.DefaultCommissionRate))
	assert.Equal(t, 1, settings.Version)
	assert.False(t, settings.MaintenanceMode)
}

func TestSettleSale_WritesEverything(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item := addStock(t, store, core.NewStockItem{
		ProductCode: "NETFLIX", Kind: core.StockKindSingleton,
		Capital: decimal.RequireFromString("40"), Price: decimal.RequireFromString("100"), TenureDays: 30,
	})

	svc := core.NewSettlementService(store, core.FixedClock{T: now})
	res, err := svc.SettleSale(ctx, core.SettleRequest{
		StockItemID: item.ID, Quantity: 1, BuyerID: "buyer-1", SellerID: admin.UserID, ExtraDays: 7,
	})
	require.NoError(t, err)

	stored, err := store.GetStockItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StockStatusSold, stored.Status)
	assert.Equal(t, 2, stored.Version)

	sales, err := store.ListSales(ctx, core.SaleFilter{SellerID: admin.UserID})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.True(t, sales[0].Commission.Equal(decimal.RequireFromString("15")))

	grant, err := store.GetAccessGrant(ctx, res.Grant.ID)
	require.NoError(t, err)
	assert.True(t, grant.ExpiresAt.Equal(time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC)))

	rollup, err := store.GetRollup(ctx, admin.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, rollup.SaleCount)
	assert.True(t, rollup.Revenue.Equal(decimal.RequireFromString("100")))

	expiring, err := store.ListAccessGrants(ctx, core.GrantFilter{
		ExpiresFrom: now, ExpiresTo: now.AddDate(0, 0, 40),
	})
	require.NoError(t, err)
	assert.Len(t, expiring, 1)
}

func TestSettleSale_RollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item := addStock(t, store, core.NewStockItem{
		ProductCode: "CANVA", Kind: core.StockKindPooled, Quantity: 5,
		Capital: decimal.RequireFromString("10"), Price: decimal.RequireFromString("25"),
	})

	boom := errors.New("abort")
	err := store.InTx(ctx, func(tx core.StoreTx) error {
		locked, err := tx.LockStockItem(ctx, item.ID)
		require.NoError(t, err)
		next, err := locked.Sell(2, "b", now)
		require.NoError(t, err)
		require.NoError(t, tx.UpdateStockItem(ctx, next, locked.Version))
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	stored, err := store.GetStockItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.AvailableQuantity)
}

func TestUpdateStockItem_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item := addStock(t, store, core.NewStockItem{
		ProductCode: "CANVA", Kind: core.StockKindPooled, Quantity: 5,
		Capital: decimal.RequireFromString("10"), Price: decimal.RequireFromString("25"),
	})

	err := store.InTx(ctx, func(tx core.StoreTx) error {
		next, err := item.Sell(1, "b", now)
		require.NoError(t, err)
		return tx.UpdateStockItem(ctx, next, item.Version+5)
	})
	assert.True(t, errors.Is(err, core.ErrPersistenceConflict))
	assert.True(t, core.IsRetriable(err))
}

func TestConcurrentSettlement(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	pool := addStock(t, store, core.NewStockItem{
		ProductCode: "CANVA", Kind: core.StockKindPooled, Quantity: 5,
		Capital: decimal.RequireFromString("10"), Price: decimal.RequireFromString("25"),
	})
	single := addStock(t, store, core.NewStockItem{
		ProductCode: "NETFLIX", Kind: core.StockKindSingleton,
		Capital: decimal.RequireFromString("40"), Price: decimal.RequireFromString("100"),
	})
	svc := core.NewSettlementService(store, core.FixedClock{T: now})

	var wg sync.WaitGroup
	var poolOK, singleOK atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.SettleSale(ctx, core.SettleRequest{StockItemID: pool.ID, Quantity: 3, BuyerID: "b", SellerID: admin.UserID})
			if err == nil {
				poolOK.Add(1)
			} else {
				assert.True(t, errors.Is(err, core.ErrInsufficientStock), "pool: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := svc.SettleSale(ctx, core.SettleRequest{StockItemID: single.ID, Quantity: 1, BuyerID: "b", SellerID: admin.UserID})
			if err == nil {
				singleOK.Add(1)
			} else {
				assert.True(t, errors.Is(err, core.ErrNotAvailable), "single: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), poolOK.Load())
	assert.Equal(t, int32(1), singleOK.Load())

	stored, err := store.GetStockItem(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AvailableQuantity)

	rollup, err := store.GetRollup(ctx, admin.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2, rollup.SaleCount)
	assert.Equal(t, 4, rollup.UnitsSold)
}

func TestRecalculationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	pool := addStock(t, store, core.NewStockItem{
		ProductCode: "CANVA", Kind: core.StockKindPooled, Quantity: 10,
		Capital: decimal.RequireFromString("10.10"), Price: decimal.RequireFromString("25.35"),
	})
	settle := core.NewSettlementService(store, core.FixedClock{T: now})
	for i, seller := range []string{"admin-1", "admin-2", "admin-1"} {
		_, err := settle.SettleSale(ctx, core.SettleRequest{
			StockItemID: pool.ID, Quantity: i + 1, BuyerID: "b", SellerID: seller,
		})
		require.NoError(t, err)
	}

	comm := core.NewCommissionService(store, core.FixedClock{T: now.Add(time.Hour)})
	_, err := comm.SetRate(ctx, owner, decimal.RequireFromString("0.33"))
	require.NoError(t, err)

	first, err := comm.RecalculateCommissions(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, first.SalesUpdated)
	afterFirst, err := store.ListRollups(ctx)
	require.NoError(t, err)

	second, err := comm.RecalculateCommissions(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, second.SalesUpdated)
	afterSecond, err := store.ListRollups(ctx)
	require.NoError(t, err)

	require.Len(t, afterSecond, 2)
	for i := range afterFirst {
		assert.True(t, afterFirst[i].Equal(afterSecond[i]), "seller %s", afterFirst[i].SellerID)
		assert.True(t, afterFirst[i].Equal(first.Rollups[i]))
	}

	settings, err := store.GetCommissionSettings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.MaintenanceMode)
}

func TestListSalesOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	pool := addStock(t, store, core.NewStockItem{
		ProductCode: "CANVA", Kind: core.StockKindPooled, Quantity: 10,
		Capital: decimal.RequireFromString("1"), Price: decimal.RequireFromString("2"),
	})
	for i := 0; i < 3; i++ {
		at := now.Add(time.Duration(i) * 90 * time.Minute)
		svc := core.NewSettlementService(store, core.FixedClock{T: at})
		_, err := svc.SettleSale(ctx, core.SettleRequest{StockItemID: pool.ID, Quantity: 1, BuyerID: "b", SellerID: admin.UserID})
		require.NoError(t, err)
	}

	sales, err := store.ListSales(ctx, core.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.True(t, sales[0].SoldAt.After(sales[1].SoldAt))
	assert.True(t, sales[1].SoldAt.After(sales[2].SoldAt))

	since, err := store.ListSales(ctx, core.SaleFilter{Since: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	none, err := store.ListSales(ctx, core.SaleFilter{SellerID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
