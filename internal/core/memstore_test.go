package core_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"stock-settlement/internal/core"
)

// memStore is an in-memory core.RecordStore. InTx serialises transactions and
// applies writes to a copy of the state that is only kept on success.
type memStore struct {
	mu    sync.Mutex
	state memState

	// failOn names a StoreTx method that returns failErr instead of writing.
	failOn  string
	failErr error
}

type memState struct {
	items    map[string]core.StockItem
	sales    []core.SaleRecord
	grants   map[string]core.AccessGrant
	rollups  map[string]core.AdminRollup
	settings core.CommissionSettings
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		items:    map[string]core.StockItem{},
		grants:   map[string]core.AccessGrant{},
		rollups:  map[string]core.AdminRollup{},
		settings: core.CommissionSettings{Rate: core.DefaultCommissionRate, Version: 1},
	}}
}

func (s memState) clone() memState {
	c := memState{
		items:    make(map[string]core.StockItem, len(s.items)),
		sales:    append([]core.SaleRecord(nil), s.sales...),
		grants:   make(map[string]core.AccessGrant, len(s.grants)),
		rollups:  make(map[string]core.AdminRollup, len(s.rollups)),
		settings: s.settings,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k, v := range s.rollups {
		c.rollups[k] = v
	}
	return c
}

func (m *memStore) InTx(ctx context.Context, fn func(tx core.StoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(&memTx{st: &work, store: m}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) put(item core.StockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.items[item.ID] = item
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) GetStockItem(_ context.Context, id string) (*core.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.state.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrStockItemNotFound, id)
	}
	return &item, nil
}

func (m *memStore) ListStockItems(_ context.Context, f core.StockFilter) ([]core.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.StockItem
	for _, it := range m.state.items {
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		if f.ProductCode != "" && it.ProductCode != f.ProductCode {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListSales(_ context.Context, f core.SaleFilter) ([]core.SaleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.SaleRecord
	for _, s := range m.state.sales {
		if f.SellerID != "" && s.SellerID != f.SellerID {
			continue
		}
		if f.StockItemID != "" && s.StockItemID != f.StockItemID {
			continue
		}
		if !f.Since.IsZero() && s.SoldAt.Before(f.Since) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SoldAt.After(out[j].SoldAt) })
	return out, nil
}

func (m *memStore) GetAccessGrant(_ context.Context, id string) (*core.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.state.grants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrGrantNotFound, id)
	}
	return &g, nil
}

func (m *memStore) ListAccessGrants(_ context.Context, f core.GrantFilter) ([]core.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.AccessGrant
	for _, g := range m.state.grants {
		if f.BuyerID != "" && g.BuyerID != f.BuyerID {
			continue
		}
		if !f.ExpiresFrom.IsZero() && g.ExpiresAt.Before(f.ExpiresFrom) {
			continue
		}
		if !f.ExpiresTo.IsZero() && g.ExpiresAt.After(f.ExpiresTo) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *memStore) ListRollups(_ context.Context) ([]core.AdminRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.AdminRollup, 0, len(m.state.rollups))
	for _, r := range m.state.rollups {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })
	return out, nil
}

func (m *memStore) GetRollup(_ context.Context, sellerID string) (*core.AdminRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.rollups[sellerID]
	if !ok {
		r = core.AdminRollup{SellerID: sellerID}
	}
	return &r, nil
}

func (m *memStore) GetCommissionSettings(_ context.Context) (core.CommissionSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.settings, nil
}

type memTx struct {
	st    *memState
	store *memStore
}

func (t *memTx) fail(op string) error {
	if t.store.failOn == op {
		return t.store.failErr
	}
	return nil
}

func (t *memTx) LockStockItem(_ context.Context, id string) (*core.StockItem, error) {
	item, ok := t.st.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrStockItemNotFound, id)
	}
	return &item, nil
}

func (t *memTx) InsertStockItem(_ context.Context, item core.StockItem) error {
	if err := t.fail("InsertStockItem"); err != nil {
		return err
	}
	t.st.items[item.ID] = item
	return nil
}

func (t *memTx) UpdateStockItem(_ context.Context, item core.StockItem, expectedVersion int) error {
	if err := t.fail("UpdateStockItem"); err != nil {
		return err
	}
	cur, ok := t.st.items[item.ID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrStockItemNotFound, item.ID)
	}
	if cur.Version != expectedVersion {
		return core.ErrPersistenceConflict
	}
	t.st.items[item.ID] = item
	return nil
}

func (t *memTx) DeleteStockItem(_ context.Context, id string, expectedVersion int) error {
	if err := t.fail("DeleteStockItem"); err != nil {
		return err
	}
	cur, ok := t.st.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrStockItemNotFound, id)
	}
	if cur.Version != expectedVersion {
		return core.ErrPersistenceConflict
	}
	delete(t.st.items, id)
	return nil
}

func (t *memTx) GetSale(_ context.Context, id string) (*core.SaleRecord, error) {
	for _, s := range t.st.sales {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrSaleNotFound, id)
}

func (t *memTx) InsertSale(_ context.Context, sale core.SaleRecord) error {
	if err := t.fail("InsertSale"); err != nil {
		return err
	}
	t.st.sales = append(t.st.sales, sale)
	return nil
}

func (t *memTx) ListAllSales(_ context.Context) ([]core.SaleRecord, error) {
	out := append([]core.SaleRecord(nil), t.st.sales...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SoldAt.Before(out[j].SoldAt) })
	return out, nil
}

func (t *memTx) UpdateSaleCommission(_ context.Context, sale core.SaleRecord) error {
	if err := t.fail("UpdateSaleCommission"); err != nil {
		return err
	}
	for i := range t.st.sales {
		if t.st.sales[i].ID == sale.ID {
			t.st.sales[i].Margin = sale.Margin
			t.st.sales[i].CommissionRate = sale.CommissionRate
			t.st.sales[i].Commission = sale.Commission
			t.st.sales[i].SettingsVersion = sale.SettingsVersion
			return nil
		}
	}
	return errors.New("sale not found")
}

func (t *memTx) InsertAccessGrant(_ context.Context, g core.AccessGrant) error {
	if err := t.fail("InsertAccessGrant"); err != nil {
		return err
	}
	t.st.grants[g.ID] = g
	return nil
}

func (t *memTx) LockAccessGrant(_ context.Context, id string) (*core.AccessGrant, error) {
	g, ok := t.st.grants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrGrantNotFound, id)
	}
	return &g, nil
}

func (t *memTx) UpdateAccessGrant(_ context.Context, g core.AccessGrant) error {
	if err := t.fail("UpdateAccessGrant"); err != nil {
		return err
	}
	t.st.grants[g.ID] = g
	return nil
}

func (t *memTx) AddToRollup(_ context.Context, sale core.SaleRecord) (core.AdminRollup, error) {
	if err := t.fail("AddToRollup"); err != nil {
		return core.AdminRollup{}, err
	}
	r := t.st.rollups[sale.SellerID].Apply(sale)
	t.st.rollups[sale.SellerID] = r
	return r, nil
}

func (t *memTx) ReplaceRollups(_ context.Context, rollups []core.AdminRollup) error {
	if err := t.fail("ReplaceRollups"); err != nil {
		return err
	}
	t.st.rollups = make(map[string]core.AdminRollup, len(rollups))
	for _, r := range rollups {
		t.st.rollups[r.SellerID] = r
	}
	return nil
}

func (t *memTx) ReadCommissionSettings(_ context.Context) (core.CommissionSettings, error) {
	return t.st.settings, nil
}

func (t *memTx) LockCommissionSettings(_ context.Context) (core.CommissionSettings, error) {
	return t.st.settings, nil
}

func (t *memTx) SaveCommissionSettings(_ context.Context, s core.CommissionSettings) error {
	if err := t.fail("SaveCommissionSettings"); err != nil {
		return err
	}
	t.st.settings = s
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

var (
	testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	owner   = core.Identity{UserID: "owner-1", Name: "Owner", Role: core.RoleOwner}
	admin   = core.Identity{UserID: "admin-1", Name: "Ana", Role: core.RoleAdmin}
	admin2  = core.Identity{UserID: "admin-2", Name: "Ben", Role: core.RoleAdmin}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func singleton(id string) core.StockItem {
	return core.StockItem{
		ID:                id,
		ProductCode:       "NETFLIX",
		Plan:              "premium",
		Kind:              core.StockKindSingleton,
		Capital:           dec("40"),
		Price:             dec("100"),
		Quantity:          1,
		AvailableQuantity: 1,
		Credentials:       &core.Credentials{Email: "acct@example.com", Password: "secret"},
		Status:            core.StockStatusAvailable,
		Version:           1,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
}

func pooled(id string, qty int) core.StockItem {
	return core.StockItem{
		ID:                id,
		ProductCode:       "CANVA",
		Plan:              "team-invite",
		Kind:              core.StockKindPooled,
		Capital:           dec("10"),
		Price:             dec("25"),
		Quantity:          qty,
		AvailableQuantity: qty,
		Status:            core.StockStatusAvailable,
		Version:           1,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
}
