// Package sqlite is the embedded core.RecordStore on modernc.org/sqlite.
// Write transactions start IMMEDIATE, so a settlement holds the database write
// lock from its first read; row locks are therefore implicit.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"stock-settlement/internal/core"
	"stock-settlement/internal/store"
)

// timeLayout is fixed-width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// isConflict reports whether err is SQLite failing to get or keep a lock.
func isConflict(err error) bool {
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED")
}

func classify(err error) error {
	if err == nil || errors.Is(err, core.ErrPersistenceConflict) || !isConflict(err) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrPersistenceConflict, err)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

var _ core.RecordStore = (*Store)(nil)

// Store implements core.RecordStore.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx core.StoreTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&storeTx{q: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *Store) GetStockItem(ctx context.Context, id string) (*core.StockItem, error) {
	return getStockItem(ctx, s.db, id)
}

func (s *Store) ListStockItems(ctx context.Context, filter core.StockFilter) ([]core.StockItem, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ProductCode != "" {
		where = append(where, "product_code = ?")
		args = append(args, filter.ProductCode)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+store.StockColumns+" FROM stock_items"+whereClause(where)+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock items: %w", err)
	}
	defer rows.Close()

	var items []core.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListSales(ctx context.Context, filter core.SaleFilter) ([]core.SaleRecord, error) {
	var where []string
	var args []any
	if filter.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, filter.SellerID)
	}
	if filter.StockItemID != "" {
		where = append(where, "stock_item_id = ?")
		args = append(args, filter.StockItemID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "sold_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	return querySales(ctx, s.db,
		"SELECT "+store.SaleColumns+" FROM sales"+whereClause(where)+" ORDER BY sold_at DESC, id", args...)
}

func (s *Store) GetAccessGrant(ctx context.Context, id string) (*core.AccessGrant, error) {
	return getAccessGrant(ctx, s.db, id)
}

func (s *Store) ListAccessGrants(ctx context.Context, filter core.GrantFilter) ([]core.AccessGrant, error) {
	var where []string
	var args []any
	if filter.BuyerID != "" {
		where = append(where, "buyer_id = ?")
		args = append(args, filter.BuyerID)
	}
	if !filter.ExpiresFrom.IsZero() {
		where = append(where, "expires_at >= ?")
		args = append(args, formatTime(filter.ExpiresFrom))
	}
	if !filter.ExpiresTo.IsZero() {
		where = append(where, "expires_at <= ?")
		args = append(args, formatTime(filter.ExpiresTo))
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+store.GrantColumns+" FROM access_grants"+whereClause(where)+" ORDER BY expires_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access grants: %w", err)
	}
	defer rows.Close()

	var grants []core.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) ListRollups(ctx context.Context) ([]core.AdminRollup, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+store.RollupColumns+" FROM admin_rollups ORDER BY seller_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	var rollups []core.AdminRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}

func (s *Store) GetRollup(ctx context.Context, sellerID string) (*core.AdminRollup, error) {
	r, err := getRollup(ctx, s.db, sellerID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetCommissionSettings(ctx context.Context) (core.CommissionSettings, error) {
	return getSettings(ctx, s.db)
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// ── row helpers shared by Store and storeTx ──────────────────────────────────

func getStockItem(ctx context.Context, q querier, id string) (*core.StockItem, error) {
	row := q.QueryRowContext(ctx, "SELECT "+store.StockColumns+" FROM stock_items WHERE id = ?", id)
	item, err := scanStockItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrStockItemNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch stock item %s: %w", id, err)
	}
	return &item, nil
}

func scanStockItem(row rowScanner) (core.StockItem, error) {
	var (
		item                 core.StockItem
		kind, status         string
		creds                sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&item.ID, &item.ProductCode, &item.Plan, &kind, &item.Capital, &item.Price,
		&item.Quantity, &item.AvailableQuantity, &creds, &item.TenureDays, &status,
		&item.BuyerID, &item.ReservedBy, &item.Version, &createdAt, &updatedAt); err != nil {
		return core.StockItem{}, err
	}
	item.Kind = core.StockKind(kind)
	item.Status = core.StockStatus(status)

	var err error
	if creds.Valid {
		if item.Credentials, err = store.DecodeCredentials([]byte(creds.String)); err != nil {
			return core.StockItem{}, err
		}
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.StockItem{}, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.StockItem{}, err
	}
	return item, nil
}

func querySales(ctx context.Context, q querier, query string, args ...any) ([]core.SaleRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []core.SaleRecord
	for rows.Next() {
		var (
			s      core.SaleRecord
			soldAt string
		)
		if err := rows.Scan(&s.ID, &s.StockItemID, &s.SellerID, &s.BuyerID, &s.Quantity, &s.SoldPrice,
			&s.Capital, &s.Revenue, &s.Margin, &s.CommissionRate, &s.Commission, &s.SettingsVersion,
			&s.Notes, &soldAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		if s.SoldAt, err = parseTime(soldAt); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func getAccessGrant(ctx context.Context, q querier, id string) (*core.AccessGrant, error) {
	row := q.QueryRowContext(ctx, "SELECT "+store.GrantColumns+" FROM access_grants WHERE id = ?", id)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrGrantNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch access grant %s: %w", id, err)
	}
	return &g, nil
}

func scanGrant(row rowScanner) (core.AccessGrant, error) {
	var (
		g                               core.AccessGrant
		availedAt, expiresAt, updatedAt string
	)
	if err := row.Scan(&g.ID, &g.SaleID, &g.StockItemID, &g.BuyerID, &availedAt, &g.DurationDays,
		&g.ExtraDays, &expiresAt, &updatedAt); err != nil {
		return core.AccessGrant{}, err
	}
	var err error
	if g.AvailedAt, err = parseTime(availedAt); err != nil {
		return core.AccessGrant{}, err
	}
	if g.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return core.AccessGrant{}, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.AccessGrant{}, err
	}
	return g, nil
}

func getRollup(ctx context.Context, q querier, sellerID string) (core.AdminRollup, error) {
	row := q.QueryRowContext(ctx, "SELECT "+store.RollupColumns+" FROM admin_rollups WHERE seller_id = ?", sellerID)
	r, err := scanRollup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AdminRollup{SellerID: sellerID, Revenue: decimal.Zero, Commission: decimal.Zero}, nil
	}
	if err != nil {
		return core.AdminRollup{}, fmt.Errorf("failed to fetch rollup for %s: %w", sellerID, err)
	}
	return r, nil
}

func scanRollup(row rowScanner) (core.AdminRollup, error) {
	var (
		r    core.AdminRollup
		last sql.NullString
	)
	if err := row.Scan(&r.SellerID, &r.SaleCount, &r.UnitsSold, &r.Revenue, &r.Commission, &last); err != nil {
		return core.AdminRollup{}, err
	}
	if last.Valid {
		t, err := parseTime(last.String)
		if err != nil {
			return core.AdminRollup{}, err
		}
		r.LastSaleAt = &t
	}
	return r, nil
}

func getSettings(ctx context.Context, q querier) (core.CommissionSettings, error) {
	var (
		s         core.CommissionSettings
		updatedAt string
	)
	err := q.QueryRowContext(ctx, "SELECT "+store.SettingsColumns+" FROM commission_settings WHERE id = 1").
		Scan(&s.Rate, &s.Version, &s.MaintenanceMode, &updatedAt, &s.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.CommissionSettings{}, fmt.Errorf("commission settings not initialised: run migrations")
		}
		return core.CommissionSettings{}, fmt.Errorf("failed to read commission settings: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.CommissionSettings{}, err
	}
	return s, nil
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
