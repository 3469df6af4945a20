package postgres

import (
	"context"
	"fmt"

	"stock-settlement/internal/core"
	"stock-settlement/internal/store"
)

type storeTx struct {
	q querier
}

func (t *storeTx) LockStockItem(ctx context.Context, id string) (*core.StockItem, error) {
	return getStockItem(ctx, t.q, id, " FOR UPDATE")
}

func (t *storeTx) InsertStockItem(ctx context.Context, item core.StockItem) error {
	creds, err := store.EncodeCredentials(item.Credentials)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO stock_items (`+store.StockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15, $16)`,
		item.ID, item.ProductCode, item.Plan, string(item.Kind), item.Capital, item.Price,
		item.Quantity, item.AvailableQuantity, creds, item.TenureDays, string(item.Status),
		item.BuyerID, item.ReservedBy, item.Version, item.CreatedAt, item.UpdatedAt,
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
	tag, err := t.q.Exec(ctx, `
		UPDATE stock_items
		SET product_code = $1, plan = $2, capital = $3, price = $4, tenure_days = $5, credentials = $6::jsonb,
		    available_quantity = $7, status = $8, buyer_id = $9, reserved_by = $10, version = $11, updated_at = $12
		WHERE id = $13 AND version = $14`,
		item.ProductCode, item.Plan, item.Capital, item.Price, item.TenureDays, creds,
		item.AvailableQuantity, string(item.Status), item.BuyerID, item.ReservedBy, item.Version,
		item.UpdatedAt, item.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update stock item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock item %s changed since version %d", core.ErrPersistenceConflict, item.ID, expectedVersion)
	}
	return nil
}

func (t *storeTx) DeleteStockItem(ctx context.Context, id string, expectedVersion int) error {
	tag, err := t.q.Exec(ctx, "DELETE FROM stock_items WHERE id = $1 AND version = $2", id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete stock item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock item %s changed since version %d", core.ErrPersistenceConflict, id, expectedVersion)
	}
	return nil
}

func (t *storeTx) GetSale(ctx context.Context, id string) (*core.SaleRecord, error) {
	sales, err := querySales(ctx, t.q, "SELECT "+store.SaleColumns+" FROM sales WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrSaleNotFound, id)
	}
	return &sales[0], nil
}

func (t *storeTx) InsertSale(ctx context.Context, s core.SaleRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO sales (`+store.SaleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.StockItemID, s.SellerID, s.BuyerID, s.Quantity, s.SoldPrice, s.Capital, s.Revenue,
		s.Margin, s.CommissionRate, s.Commission, s.SettingsVersion, s.Notes, s.SoldAt,
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
	_, err := t.q.Exec(ctx, `
		UPDATE sales SET margin = $1, commission_rate = $2, commission = $3, settings_version = $4
		WHERE id = $5`,
		s.Margin, s.CommissionRate, s.Commission, s.SettingsVersion, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale commission: %w", err)
	}
	return nil
}

func (t *storeTx) InsertAccessGrant(ctx context.Context, g core.AccessGrant) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO access_grants (`+store.GrantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID, g.SaleID, g.StockItemID, g.BuyerID, g.AvailedAt, g.DurationDays, g.ExtraDays,
		g.ExpiresAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access grant: %w", err)
	}
	return nil
}

func (t *storeTx) LockAccessGrant(ctx context.Context, id string) (*core.AccessGrant, error) {
	return getAccessGrant(ctx, t.q, id, " FOR UPDATE")
}

func (t *storeTx) UpdateAccessGrant(ctx context.Context, g core.AccessGrant) error {
	_, err := t.q.Exec(ctx, `
		UPDATE access_grants SET extra_days = $1, expires_at = $2, updated_at = $3
		WHERE id = $4`,
		g.ExtraDays, g.ExpiresAt, g.UpdatedAt, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update access grant: %w", err)
	}
	return nil
}

func (t *storeTx) AddToRollup(ctx context.Context, sale core.SaleRecord) (core.AdminRollup, error) {
	r, err := scanRollup(t.q.QueryRow(ctx, `
		INSERT INTO admin_rollups (`+store.RollupColumns+`)
		VALUES ($1, 1, $2, $3, $4, $5)
		ON CONFLICT (seller_id) DO UPDATE SET
			sale_count   = admin_rollups.sale_count + 1,
			units_sold   = admin_rollups.units_sold + EXCLUDED.units_sold,
			revenue      = admin_rollups.revenue + EXCLUDED.revenue,
			commission   = admin_rollups.commission + EXCLUDED.commission,
			last_sale_at = GREATEST(admin_rollups.last_sale_at, EXCLUDED.last_sale_at)
		RETURNING `+store.RollupColumns,
		sale.SellerID, sale.Quantity, sale.Revenue, sale.Commission, sale.SoldAt,
	))
	if err != nil {
		return core.AdminRollup{}, fmt.Errorf("failed to upsert rollup: %w", err)
	}
	return r, nil
}

func (t *storeTx) ReplaceRollups(ctx context.Context, rollups []core.AdminRollup) error {
	if _, err := t.q.Exec(ctx, "DELETE FROM admin_rollups"); err != nil {
		return fmt.Errorf("failed to clear rollups: %w", err)
	}
	for _, r := range rollups {
		_, err := t.q.Exec(ctx, `
			INSERT INTO admin_rollups (`+store.RollupColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.SellerID, r.SaleCount, r.UnitsSold, r.Revenue, r.Commission, r.LastSaleAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rollup for %s: %w", r.SellerID, err)
		}
	}
	return nil
}

func (t *storeTx) ReadCommissionSettings(ctx context.Context) (core.CommissionSettings, error) {
	return getSettings(ctx, t.q, " FOR SHARE")
}

func (t *storeTx) LockCommissionSettings(ctx context.Context) (core.CommissionSettings, error) {
	return getSettings(ctx, t.q, " FOR UPDATE")
}

func (t *storeTx) SaveCommissionSettings(ctx context.Context, s core.CommissionSettings) error {
	_, err := t.q.Exec(ctx, `
		UPDATE commission_settings
		SET rate = $1, version = $2, maintenance_mode = $3, updated_at = $4, updated_by = $5
		WHERE id = 1`,
		s.Rate, s.Version, s.MaintenanceMode, s.UpdatedAt, s.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save commission settings: %w", err)
	}
	return nil
}
