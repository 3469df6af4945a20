package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-settlement/internal/core"
	"stock-settlement/internal/idempotency"
)

// ErrDuplicateRequest is returned when an idempotency key was already used.
var ErrDuplicateRequest = errors.New("duplicate request")

// DuplicateRequestError reports a reused idempotency key. SaleID is the sale
// settled by the first request, or empty while that request is in flight.
type DuplicateRequestError struct {
	Key    string
	SaleID string
}

func (e *DuplicateRequestError) Error() string {
	if e.SaleID == "" {
		return fmt.Sprintf("%s: key %q is still being settled", ErrDuplicateRequest, e.Key)
	}
	return fmt.Sprintf("%s: key %q already settled as sale %s", ErrDuplicateRequest, e.Key, e.SaleID)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }

// retryBackoff is the base delay between conflict retries; attempt n waits n times this.
const retryBackoff = 25 * time.Millisecond

// Options tunes an appService. Zero values select the defaults.
type Options struct {
	MaxRetries   int
	ExpiryWindow time.Duration
	Guard        IdempotencyGuard
	Clock        core.Clock
}

type appService struct {
	identities   core.IdentityProvider
	settlement   core.SettlementService
	stock        core.StockService
	commission   core.CommissionService
	guard        IdempotencyGuard
	maxRetries   int
	expiryWindow time.Duration
	logger       *zap.Logger
}

// NewAppService wires the core services over store and returns an ApplicationService.
func NewAppService(store core.RecordStore, identities core.IdentityProvider, logger *zap.Logger, opts Options) ApplicationService {
	clock := opts.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	window := opts.ExpiryWindow
	if window <= 0 {
		window = core.DefaultExpiryWindow
	}
	return &appService{
		identities:   identities,
		settlement:   core.NewSettlementService(store, clock),
		stock:        core.NewStockService(store, clock),
		commission:   core.NewCommissionService(store, clock),
		guard:        opts.Guard,
		maxRetries:   max(opts.MaxRetries, 0),
		expiryWindow: window,
		logger:       logger,
	}
}

func (s *appService) caller(ctx context.Context) (core.Identity, error) {
	id, err := s.identities.Identity(ctx)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to resolve caller: %w", err)
	}
	if id.UserID == "" {
		return core.Identity{}, fmt.Errorf("%w: anonymous caller", core.ErrForbidden)
	}
	return id, nil
}

// retry runs fn until it succeeds, fails with a non-retriable error, or the
// retry budget is spent. Every attempt starts from scratch.
func (s *appService) retry(ctx context.Context, op string, fn func() error, fields ...zap.Field) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !core.IsRetriable(err) || attempt >= s.maxRetries {
			break
		}
		s.logger.Warn("retrying after conflict",
			append(fields, zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))...)

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
	if err != nil && core.IsRetriable(err) {
		s.logger.Error("giving up after conflicts",
			append(fields, zap.String("op", op), zap.Int("retries", s.maxRetries), zap.Error(err))...)
	}
	return err
}

func (s *appService) ParseTenure(spec string) (*TenureResult, error) {
	parsed, err := core.ParseTenure(spec)
	if err != nil {
		return nil, err
	}
	return &TenureResult{Spec: parsed, Choices: parsed.Choices()}, nil
}

func (s *appService) AddStock(ctx context.Context, req AddStockRequest) (*core.StockItem, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	in := core.NewStockItem{
		ProductCode: req.ProductCode,
		Plan:        req.Plan,
		Kind:        req.Kind,
		Capital:     req.Capital,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Credentials: req.Credentials,
	}
	if req.Tenure != "" {
		choices, err := core.ExpandTenure(req.Tenure)
		if err != nil {
			return nil, err
		}
		in.TenureDays = choices[0].Days
	}

	var item *core.StockItem
	err = s.retry(ctx, "add_stock", func() error {
		var err error
		item, err = s.stock.AddStock(ctx, id, in)
		return err
	}, zap.String("product_code", req.ProductCode))
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock added",
		zap.String("stock_item_id", item.ID),
		zap.String("product_code", item.ProductCode),
		zap.String("kind", string(item.Kind)),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

func (s *appService) UpdateStock(ctx context.Context, itemID string, req UpdateStockRequest) (*core.StockItem, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	upd := core.StockUpdate{
		ProductCode:     req.ProductCode,
		Plan:            req.Plan,
		Capital:         req.Capital,
		Price:           req.Price,
		Credentials:     req.Credentials,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.Tenure != nil {
		choices, err := core.ExpandTenure(*req.Tenure)
		if err != nil {
			return nil, err
		}
		upd.TenureDays = &choices[0].Days
	}

	var item *core.StockItem
	err = s.retry(ctx, "update_stock", func() error {
		var err error
		item, err = s.stock.UpdateStock(ctx, id, itemID, upd)
		return err
	}, zap.String("stock_item_id", itemID))
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock updated",
		zap.String("stock_item_id", item.ID),
		zap.String("capital", item.Capital.StringFixed(core.MoneyPlaces)),
		zap.String("price", item.Price.StringFixed(core.MoneyPlaces)),
		zap.Int("version", item.Version))
	return item, nil
}

func (s *appService) RemoveStock(ctx context.Context, itemID string) error {
	id, err := s.caller(ctx)
	if err != nil {
		return err
	}
	err = s.retry(ctx, "remove_stock", func() error {
		return s.stock.RemoveStock(ctx, id, itemID)
	}, zap.String("stock_item_id", itemID))
	if err != nil {
		return err
	}
	s.logger.Info("stock removed", zap.String("stock_item_id", itemID), zap.String("removed_by", id.UserID))
	return nil
}

func (s *appService) GetStockItem(ctx context.Context, id string) (*core.StockItem, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	return s.stock.GetStockItem(ctx, id)
}

func (s *appService) ListStock(ctx context.Context, filter core.StockFilter) (*StockListResult, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	items, err := s.stock.ListStock(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &StockListResult{Items: items}, nil
}

func (s *appService) SettleSale(ctx context.Context, req SellRequest) (*core.SettlementResult, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := core.RequirePermission(id, core.PermSell); err != nil {
		return nil, err
	}

	coreReq := core.SettleRequest{
		StockItemID:  req.StockItemID,
		Quantity:     req.Quantity,
		SoldPrice:    req.SoldPrice,
		BuyerID:      req.BuyerID,
		SellerID:     id.UserID,
		DurationDays: req.DurationDays,
		ExtraDays:    req.ExtraDays,
		AvailedAt:    req.AvailedAt,
		Notes:        req.Notes,
	}
	if err := coreReq.Validate(); err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("stock_item_id", req.StockItemID),
		zap.String("seller_id", id.UserID),
	}

	claimed := false
	if req.IdempotencyKey != "" && s.guard != nil {
		ok, err := s.guard.Claim(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, s.duplicate(ctx, req.IdempotencyKey, fields)
		}
		claimed = true
	}

	var result *core.SettlementResult
	err = s.retry(ctx, "settle_sale", func() error {
		var err error
		result, err = s.settlement.SettleSale(ctx, coreReq)
		return err
	}, fields...)

	if claimed {
		// The outcome is recorded even if the caller has gone away.
		bg := context.WithoutCancel(ctx)
		if err != nil {
			if relErr := s.guard.Release(bg, req.IdempotencyKey); relErr != nil {
				s.logger.Warn("failed to release idempotency key", append(fields, zap.Error(relErr))...)
			}
		} else if cErr := s.guard.Complete(bg, req.IdempotencyKey, result.Sale.ID); cErr != nil {
			s.logger.Warn("failed to complete idempotency key", append(fields, zap.Error(cErr))...)
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("sale settled", append(fields,
		zap.String("sale_id", result.Sale.ID),
		zap.Int("quantity", result.Sale.Quantity),
		zap.String("commission", result.Sale.Commission.StringFixed(core.MoneyPlaces)),
		zap.Int("settings_version", result.Sale.SettingsVersion))...)
	return result, nil
}

// duplicate builds the error for a reused key, naming the first sale when it is known.
func (s *appService) duplicate(ctx context.Context, key string, fields []zap.Field) error {
	dup := &DuplicateRequestError{Key: key}
	prior, err := s.guard.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn("failed to look up idempotency key", append(fields, zap.Error(err))...)
		return dup
	}
	if !idempotency.IsPending(prior) {
		dup.SaleID = prior
	}
	s.logger.Info("duplicate request rejected", append(fields, zap.String("sale_id", dup.SaleID))...)
	return dup
}

func (s *appService) ReserveItem(ctx context.Context, itemID string) (*core.StockItem, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	var item *core.StockItem
	err = s.retry(ctx, "reserve_item", func() error {
		var err error
		item, err = s.settlement.ReserveItem(ctx, id, itemID)
		return err
	}, zap.String("stock_item_id", itemID))
	return item, err
}

func (s *appService) ReleaseItem(ctx context.Context, itemID string) (*core.StockItem, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	var item *core.StockItem
	err = s.retry(ctx, "release_item", func() error {
		var err error
		item, err = s.settlement.ReleaseItem(ctx, id, itemID)
		return err
	}, zap.String("stock_item_id", itemID))
	return item, err
}

func (s *appService) ExtendAccess(ctx context.Context, grantID string, additionalDays int) (*core.AccessGrant, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	var grant *core.AccessGrant
	err = s.retry(ctx, "extend_access", func() error {
		var err error
		grant, err = s.settlement.ExtendAccess(ctx, id, grantID, additionalDays)
		return err
	}, zap.String("grant_id", grantID))
	if err != nil {
		return nil, err
	}
	s.logger.Info("access extended",
		zap.String("grant_id", grant.ID),
		zap.Int("extra_days", grant.ExtraDays),
		zap.Time("expires_at", grant.ExpiresAt))
	return grant, nil
}

func (s *appService) ListSales(ctx context.Context, filter core.SaleFilter) (*SalesResult, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if !id.Can(core.PermViewAllSales) {
		if filter.SellerID != "" && filter.SellerID != id.UserID {
			return nil, fmt.Errorf("%w: cannot view sales of %s", core.ErrForbidden, filter.SellerID)
		}
		filter.SellerID = id.UserID
	}

	sales, err := s.stock.ListSales(ctx, filter)
	if err != nil {
		return nil, err
	}
	res := &SalesResult{Sales: sales, Revenue: decimal.Zero, Commission: decimal.Zero}
	for _, sale := range sales {
		res.Revenue = res.Revenue.Add(sale.Revenue)
		res.Commission = res.Commission.Add(sale.Commission)
	}
	return res, nil
}

func (s *appService) ListRollups(ctx context.Context) (*RollupsResult, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if !id.Can(core.PermViewAllRollups) {
		rollup, err := s.stock.GetRollup(ctx, id.UserID)
		if err != nil {
			return nil, err
		}
		return &RollupsResult{Rollups: []core.AdminRollup{*rollup}}, nil
	}
	rollups, err := s.stock.ListRollups(ctx)
	if err != nil {
		return nil, err
	}
	return &RollupsResult{Rollups: rollups}, nil
}

func (s *appService) ExpiringGrants(ctx context.Context, within time.Duration) (*GrantsResult, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	if within <= 0 {
		within = s.expiryWindow
	}
	grants, err := s.stock.ExpiringGrants(ctx, within)
	if err != nil {
		return nil, err
	}
	return &GrantsResult{Grants: grants}, nil
}

func (s *appService) GetCommissionSettings(ctx context.Context) (core.CommissionSettings, error) {
	if _, err := s.caller(ctx); err != nil {
		return core.CommissionSettings{}, err
	}
	return s.commission.GetSettings(ctx)
}

func (s *appService) SetCommissionRate(ctx context.Context, rate string) (core.CommissionSettings, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return core.CommissionSettings{}, err
	}
	parsed, err := core.ParseCommissionRate(rate)
	if err != nil {
		return core.CommissionSettings{}, err
	}

	var settings core.CommissionSettings
	err = s.retry(ctx, "set_rate", func() error {
		var err error
		settings, err = s.commission.SetRate(ctx, id, parsed)
		return err
	})
	if err != nil {
		return core.CommissionSettings{}, err
	}
	s.logger.Info("commission rate set",
		zap.String("rate", settings.Rate.String()),
		zap.Int("version", settings.Version),
		zap.String("updated_by", id.UserID))
	return settings, nil
}

func (s *appService) RecalculateCommissions(ctx context.Context) (*core.RecalculationReport, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var report *core.RecalculationReport
	err = s.retry(ctx, "recalculate", func() error {
		var err error
		report, err = s.commission.RecalculateCommissions(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("commissions recalculated",
		zap.String("rate", report.Rate.String()),
		zap.Int("version", report.Version),
		zap.Int("sales_scanned", report.SalesScanned),
		zap.Int("sales_updated", report.SalesUpdated),
		zap.Int("rollups", len(report.Rollups)),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (s *appService) RebuildRollups(ctx context.Context) (*RollupsResult, error) {
	id, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	var rollups []core.AdminRollup
	err = s.retry(ctx, "rebuild_rollups", func() error {
		var err error
		rollups, err = s.commission.RebuildRollups(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("rollups rebuilt", zap.Int("rollups", len(rollups)))
	return &RollupsResult{Rollups: rollups}, nil
}
