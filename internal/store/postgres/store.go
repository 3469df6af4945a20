// Package postgres is the core.RecordStore on PostgreSQL via pgx.
// Stock and grant rows are locked with SELECT ... FOR UPDATE; settlements hold the
// commission settings row FOR SHARE so a recalculation can wait them out.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stock-settlement/internal/core"
	"stock-settlement/internal/store"
)

// SQLSTATE codes that mean "try again".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

func classify(err error) error {
	if err == nil || errors.Is(err, core.ErrPersistenceConflict) || !isConflict(err) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrPersistenceConflict, err)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ core.RecordStore = (*Store)(nil)

// Store implements core.RecordStore.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New returns a store on pool. A positive lockTimeout is set on every transaction
// with SET LOCAL so lock waits surface as core.ErrPersistenceConflict.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

func (s *Store) InTx(ctx context.Context, fn func(tx core.StoreTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(&storeTx{q: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *Store) GetStockItem(ctx context.Context, id string) (*core.StockItem, error) {
	return getStockItem(ctx, s.pool, id, "")
}

func (s *Store) ListStockItems(ctx context.Context, filter core.StockFilter) ([]core.StockItem, error) {
	var b filterBuilder
	if filter.Status != "" {
		b.add("status = %s", string(filter.Status))
	}
	if filter.ProductCode != "" {
		b.add("product_code = %s", filter.ProductCode)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+store.StockColumns+" FROM stock_items"+b.where()+" ORDER BY created_at, id", b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock items: %w", err)
	}
	defer rows.Close()

	var items []core.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListSales(ctx context.Context, filter core.SaleFilter) ([]core.SaleRecord, error) {
	var b filterBuilder
	if filter.SellerID != "" {
		b.add("seller_id = %s", filter.SellerID)
	}
	if filter.StockItemID != "" {
		b.add("stock_item_id = %s", filter.StockItemID)
	}
	if !filter.Since.IsZero() {
		b.add("sold_at >= %s", filter.Since)
	}
	return querySales(ctx, s.pool,
		"SELECT "+store.SaleColumns+" FROM sales"+b.where()+" ORDER BY sold_at DESC, id", b.args...)
}

func (s *Store) GetAccessGrant(ctx context.Context, id string) (*core.AccessGrant, error) {
	return getAccessGrant(ctx, s.pool, id, "")
}

func (s *Store) ListAccessGrants(ctx context.Context, filter core.GrantFilter) ([]core.AccessGrant, error) {
	var b filterBuilder
	if filter.BuyerID != "" {
		b.add("buyer_id = %s", filter.BuyerID)
	}
	if !filter.ExpiresFrom.IsZero() {
		b.add("expires_at >= %s", filter.ExpiresFrom)
	}
	if !filter.ExpiresTo.IsZero() {
		b.add("expires_at <= %s", filter.ExpiresTo)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+store.GrantColumns+" FROM access_grants"+b.where()+" ORDER BY expires_at, id", b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access grants: %w", err)
	}
	defer rows.Close()

	var grants []core.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) ListRollups(ctx context.Context) ([]core.AdminRollup, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+store.RollupColumns+" FROM admin_rollups ORDER BY seller_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	var rollups []core.AdminRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}

func (s *Store) GetRollup(ctx context.Context, sellerID string) (*core.AdminRollup, error) {
	r, err := scanRollup(s.pool.QueryRow(ctx,
		"SELECT "+store.RollupColumns+" FROM admin_rollups WHERE seller_id = $1", sellerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &core.AdminRollup{SellerID: sellerID, Revenue: decimal.Zero, Commission: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rollup for %s: %w", sellerID, err)
	}
	return &r, nil
}

func (s *Store) GetCommissionSettings(ctx context.Context) (core.CommissionSettings, error) {
	return getSettings(ctx, s.pool, "")
}

// filterBuilder numbers placeholders as conditions are added.
type filterBuilder struct {
	conds []string
	args  []any
}

func (b *filterBuilder) add(cond string, arg any) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(b.args))))
}

func (b *filterBuilder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// ── row helpers shared by Store and storeTx ──────────────────────────────────

func getStockItem(ctx context.Context, q querier, id, lockClause string) (*core.StockItem, error) {
	item, err := scanStockItem(q.QueryRow(ctx,
		"SELECT "+store.StockColumns+" FROM stock_items WHERE id = $1"+lockClause, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrStockItemNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch stock item %s: %w", id, err)
	}
	return &item, nil
}

func scanStockItem(row pgx.Row) (core.StockItem, error) {
	var (
		item         core.StockItem
		kind, status string
		creds        []byte
	)
	if err := row.Scan(&item.ID, &item.ProductCode, &item.Plan, &kind, &item.Capital, &item.Price,
		&item.Quantity, &item.AvailableQuantity, &creds, &item.TenureDays, &status,
		&item.BuyerID, &item.ReservedBy, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return core.StockItem{}, err
	}
	item.Kind = core.StockKind(kind)
	item.Status = core.StockStatus(status)

	c, err := store.DecodeCredentials(creds)
	if err != nil {
		return core.StockItem{}, err
	}
	item.Credentials = c
	return item, nil
}

func querySales(ctx context.Context, q querier, sql string, args ...any) ([]core.SaleRecord, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []core.SaleRecord
	for rows.Next() {
		var s core.SaleRecord
		if err := rows.Scan(&s.ID, &s.StockItemID, &s.SellerID, &s.BuyerID, &s.Quantity, &s.SoldPrice,
			&s.Capital, &s.Revenue, &s.Margin, &s.CommissionRate, &s.Commission, &s.SettingsVersion,
			&s.Notes, &s.SoldAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func getAccessGrant(ctx context.Context, q querier, id, lockClause string) (*core.AccessGrant, error) {
	g, err := scanGrant(q.QueryRow(ctx,
		"SELECT "+store.GrantColumns+" FROM access_grants WHERE id = $1"+lockClause, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrGrantNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch access grant %s: %w", id, err)
	}
	return &g, nil
}

func scanGrant(row pgx.Row) (core.AccessGrant, error) {
	var g core.AccessGrant
	err := row.Scan(&g.ID, &g.SaleID, &g.StockItemID, &g.BuyerID, &g.AvailedAt, &g.DurationDays,
		&g.ExtraDays, &g.ExpiresAt, &g.UpdatedAt)
	return g, err
}

func scanRollup(row pgx.Row) (core.AdminRollup, error) {
	var r core.AdminRollup
	err := row.Scan(&r.SellerID, &r.SaleCount, &r.UnitsSold, &r.Revenue, &r.Commission, &r.LastSaleAt)
	return r, err
}

func getSettings(ctx context.Context, q querier, lockClause string) (core.CommissionSettings, error) {
	var s core.CommissionSettings
	err := q.QueryRow(ctx, "SELECT "+store.SettingsColumns+" FROM commission_settings WHERE id = 1"+lockClause).
		Scan(&s.Rate, &s.Version, &s.MaintenanceMode, &s.UpdatedAt, &s.UpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.CommissionSettings{}, fmt.Errorf("commission settings not initialised: run migrations")
		}
		return core.CommissionSettings{}, fmt.Errorf("failed to read commission settings: %w", err)
	}
	return s, nil
}
