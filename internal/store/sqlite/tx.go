package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"stock-settlement/internal/core"
	"stock-settlement/internal/store"
)

type storeTx struct {
	q querier
}

// LockStockItem needs no row lock: the IMMEDIATE transaction already holds the write lock.
func (t *storeTx) LockStockItem(ctx context.Context, id string) (*core.StockItem, error) {
	return getStockItem(ctx, t.q, id)
}

func (t *storeTx) InsertStockItem(ctx context.Context, item core.StockItem) error {
	creds, err := store.EncodeCredentials(item.Credentials)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO stock_items (`+store.StockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ProductCode, item.Plan, string(item.Kind), item.Capital.String(), item.Price.String(),
		item.Quantity, item.AvailableQuantity, creds, item.TenureDays, string(item.Status),
		item.BuyerID, item.ReservedBy, item.Version, formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert stock item: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateStockItem(ctx context.Context, item core.StockItem, expectedVersion int) error {
	creds, err := store.EncodeCredentials(item.Credentials)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE stock_items
		SET product_code = ?, plan = ?, capital = ?, price = ?, tenure_days = ?, credentials = ?,
		    available_quantity = ?, status = ?, buyer_id = ?, reserved_by = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		item.ProductCode, item.Plan, item.Capital.String(), item.Price.String(), item.TenureDays, creds,
		item.AvailableQuantity, string(item.Status), item.BuyerID, item.ReservedBy, item.Version,
		formatTime(item.UpdatedAt), item.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update stock item: %w", err)
	}
	return requireRow(res, "stock item", item.ID, expectedVersion)
}

func (t *storeTx) DeleteStockItem(ctx context.Context, id string, expectedVersion int) error {
	res, err := t.q.ExecContext(ctx, "DELETE FROM stock_items WHERE id = ? AND version = ?", id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete stock item: %w", err)
	}
	return requireRow(res, "stock item", id, expectedVersion)
}

func requireRow(res sql.Result, what, id string, expectedVersion int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s changed since version %d", core.ErrPersistenceConflict, what, id, expectedVersion)
	}
	return nil
}

func (t *storeTx) GetSale(ctx context.Context, id string) (*core.SaleRecord, error) {
	sales, err := querySales(ctx, t.q, "SELECT "+store.SaleColumns+" FROM sales WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrSaleNotFound, id)
	}
	return &sales[0], nil
}

func (t *storeTx) InsertSale(ctx context.Context, s core.SaleRecord) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (`+store.SaleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StockItemID, s.SellerID, s.BuyerID, s.Quantity, s.SoldPrice.String(), s.Capital.String(),
		s.Revenue.String(), s.Margin.String(), s.CommissionRate.String(), s.Commission.String(),
		s.SettingsVersion, s.Notes, formatTime(s.SoldAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

func (t *storeTx) ListAllSales(ctx context.Context) ([]core.SaleRecord, error) {
	return querySales(ctx, t.q, "SELECT "+store.SaleColumns+" FROM sales ORDER BY sold_at, id")
}

func (t *storeTx) UpdateSaleCommission(ctx context.Context, s core.SaleRecord) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE sales SET margin = ?, commission_rate = ?, commission = ?, settings_version = ?
		WHERE id = ?`,
		s.Margin.String(), s.CommissionRate.String(), s.Commission.String(), s.SettingsVersion, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale commission: %w", err)
	}
	return nil
}

func (t *storeTx) InsertAccessGrant(ctx context.Context, g core.AccessGrant) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO access_grants (`+store.GrantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.SaleID, g.StockItemID, g.BuyerID, formatTime(g.AvailedAt), g.DurationDays, g.ExtraDays,
		formatTime(g.ExpiresAt), formatTime(g.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert access grant: %w", err)
	}
	return nil
}

func (t *storeTx) LockAccessGrant(ctx context.Context, id string) (*core.AccessGrant, error) {
	return getAccessGrant(ctx, t.q, id)
}

func (t *storeTx) UpdateAccessGrant(ctx context.Context, g core.AccessGrant) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE access_grants SET extra_days = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		g.ExtraDays, formatTime(g.ExpiresAt), formatTime(g.UpdatedAt), g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update access grant: %w", err)
	}
	return nil
}

// AddToRollup folds in Go: decimal TEXT columns cannot be summed exactly in SQL.
func (t *storeTx) AddToRollup(ctx context.Context, sale core.SaleRecord) (core.AdminRollup, error) {
	current, err := getRollup(ctx, t.q, sale.SellerID)
	if err != nil {
		return core.AdminRollup{}, err
	}
	next := current.Apply(sale)
	if err := upsertRollup(ctx, t.q, next); err != nil {
		return core.AdminRollup{}, err
	}
	return next, nil
}

func (t *storeTx) ReplaceRollups(ctx context.Context, rollups []core.AdminRollup) error {
	if _, err := t.q.ExecContext(ctx, "DELETE FROM admin_rollups"); err != nil {
		return fmt.Errorf("failed to clear rollups: %w", err)
	}
	for _, r := range rollups {
		if err := upsertRollup(ctx, t.q, r); err != nil {
			return err
		}
	}
	return nil
}

func upsertRollup(ctx context.Context, q querier, r core.AdminRollup) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO admin_rollups (`+store.RollupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (seller_id) DO UPDATE SET
			sale_count = excluded.sale_count,
			units_sold = excluded.units_sold,
			revenue = excluded.revenue,
			commission = excluded.commission,
			last_sale_at = excluded.last_sale_at`,
		r.SellerID, r.SaleCount, r.UnitsSold, r.Revenue.String(), r.Commission.String(), nullableTime(r.LastSaleAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rollup for %s: %w", r.SellerID, err)
	}
	return nil
}

func (t *storeTx) ReadCommissionSettings(ctx context.Context) (core.CommissionSettings, error) {
	return getSettings(ctx, t.q)
}

func (t *storeTx) LockCommissionSettings(ctx context.Context) (core.CommissionSettings, error) {
	return getSettings(ctx, t.q)
}

func (t *storeTx) SaveCommissionSettings(ctx context.Context, s core.CommissionSettings) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE commission_settings
		SET rate = ?, version = ?, maintenance_mode = ?, updated_at = ?, updated_by = ?
		WHERE id = 1`,
		s.Rate.String(), s.Version, s.MaintenanceMode, formatTime(s.UpdatedAt), s.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save commission settings: %w", err)
	}
	return nil
}
