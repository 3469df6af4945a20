package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RecalculationReport summarises one commission recalculation run.
type RecalculationReport struct {
	Rate         decimal.Decimal
	Version      int
	SalesScanned int
	SalesUpdated int
	Rollups      []AdminRollup
}

// CommissionService manages the versioned commission rate and the bulk jobs
// that rewrite historical commission and rollups.
type CommissionService interface {
	GetSettings(ctx context.Context) (CommissionSettings, error)
	// SetRate changes the rate for future settlements. Past sales keep the rate
	// they were settled with until RecalculateCommissions runs.
	SetRate(ctx context.Context, caller Identity, rate decimal.Decimal) (CommissionSettings, error)
	// RecalculateCommissions rewrites every sale's commission at the current rate
	// and rebuilds all rollups. New settlements are refused while it runs.
	RecalculateCommissions(ctx context.Context, caller Identity) (*RecalculationReport, error)
	// RebuildRollups recomputes rollups from the sale ledger without touching commissions.
	RebuildRollups(ctx context.Context, caller Identity) ([]AdminRollup, error)
}

type commissionService struct {
	store RecordStore
	clock Clock
}

func NewCommissionService(store RecordStore, clock Clock) CommissionService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &commissionService{store: store, clock: clock}
}

func (s *commissionService) GetSettings(ctx context.Context) (CommissionSettings, error) {
	settings, err := s.store.GetCommissionSettings(ctx)
	if err != nil {
		return CommissionSettings{}, fmt.Errorf("failed to get commission settings: %w", err)
	}
	return settings, nil
}

func (s *commissionService) SetRate(ctx context.Context, caller Identity, rate decimal.Decimal) (CommissionSettings, error) {
	if err := RequirePermission(caller, PermSetRate); err != nil {
		return CommissionSettings{}, err
	}
	if _, err := NewCommissionRate(rate); err != nil {
		return CommissionSettings{}, err
	}

	var out CommissionSettings
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		settings, err := tx.LockCommissionSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock commission settings: %w", err)
		}
		if settings.MaintenanceMode {
			return ErrMaintenanceMode
		}
		if settings.Rate.Equal(rate) {
			out = settings
			return nil
		}
		settings.Rate = rate
		settings.Version++
		settings.UpdatedAt = s.clock.Now()
		settings.UpdatedBy = caller.UserID
		if err := tx.SaveCommissionSettings(ctx, settings); err != nil {
			return fmt.Errorf("failed to save commission settings: %w", err)
		}
		out = settings
		return nil
	})
	if err != nil {
		return CommissionSettings{}, err
	}
	return out, nil
}

func (s *commissionService) RecalculateCommissions(ctx context.Context, caller Identity) (*RecalculationReport, error) {
	if err := RequirePermission(caller, PermRecalculate); err != nil {
		return nil, err
	}

	// Phase 1: raise the maintenance flag. The exclusive lock waits for in-flight
	// settlements, which hold the settings row in share mode.
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		settings, err := tx.LockCommissionSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock commission settings: %w", err)
		}
		if settings.MaintenanceMode {
			return ErrMaintenanceMode
		}
		settings.MaintenanceMode = true
		settings.UpdatedAt = s.clock.Now()
		settings.UpdatedBy = caller.UserID
		return tx.SaveCommissionSettings(ctx, settings)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enter maintenance mode: %w", err)
	}

	// Phase 2: rewrite the ledger and rollups, then lower the flag in the same transaction.
	var report RecalculationReport
	err = s.store.InTx(ctx, func(tx StoreTx) error {
		settings, err := tx.LockCommissionSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock commission settings: %w", err)
		}
		sales, err := tx.ListAllSales(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sales: %w", err)
		}

		updated := 0
		for i, sale := range sales {
			next, changed, err := recalculateSale(sale, settings)
			if err != nil {
				return fmt.Errorf("failed to recalculate sale %s: %w", sale.ID, err)
			}
			if !changed {
				continue
			}
			if err := tx.UpdateSaleCommission(ctx, next); err != nil {
				return fmt.Errorf("failed to update sale %s: %w", sale.ID, err)
			}
			sales[i] = next
			updated++
		}

		rollups := FoldRollups(sales)
		if err := tx.ReplaceRollups(ctx, rollups); err != nil {
			return fmt.Errorf("failed to replace rollups: %w", err)
		}

		settings.MaintenanceMode = false
		settings.UpdatedAt = s.clock.Now()
		if err := tx.SaveCommissionSettings(ctx, settings); err != nil {
			return fmt.Errorf("failed to leave maintenance mode: %w", err)
		}

		report = RecalculationReport{
			Rate:         settings.Rate,
			Version:      settings.Version,
			SalesScanned: len(sales),
			SalesUpdated: updated,
			Rollups:      rollups,
		}
		return nil
	})
	if err != nil {
		if clearErr := s.clearMaintenance(context.WithoutCancel(ctx)); clearErr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to clear maintenance mode: %w", clearErr))
		}
		return nil, err
	}
	return &report, nil
}

// recalculateSale recomputes sale's commission under settings. Revenue and capital are untouched.
func recalculateSale(sale SaleRecord, settings CommissionSettings) (SaleRecord, bool, error) {
	split, err := CalculateSaleCommission(sale.SoldPrice, sale.Capital, sale.Quantity, settings.Rate)
	if err != nil {
		return SaleRecord{}, false, err
	}
	split = split.Rounded()
	if split.Commission.Equal(sale.Commission) && split.Margin.Equal(sale.Margin) &&
		settings.Rate.Equal(sale.CommissionRate) && settings.Version == sale.SettingsVersion {
		return sale, false, nil
	}
	next := sale
	next.Margin = split.Margin
	next.CommissionRate = settings.Rate
	next.Commission = split.Commission
	next.SettingsVersion = settings.Version
	return next, true, nil
}

func (s *commissionService) clearMaintenance(ctx context.Context) error {
	return s.store.InTx(ctx, func(tx StoreTx) error {
		settings, err := tx.LockCommissionSettings(ctx)
		if err != nil {
			return err
		}
		if !settings.MaintenanceMode {
			return nil
		}
		settings.MaintenanceMode = false
		settings.UpdatedAt = s.clock.Now()
		return tx.SaveCommissionSettings(ctx, settings)
	})
}

func (s *commissionService) RebuildRollups(ctx context.Context, caller Identity) ([]AdminRollup, error) {
	if err := RequirePermission(caller, PermRecalculate); err != nil {
		return nil, err
	}

	var rollups []AdminRollup
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		// Exclusive settings lock keeps settlements out while the rollup table is replaced.
		if _, err := tx.LockCommissionSettings(ctx); err != nil {
			return fmt.Errorf("failed to lock commission settings: %w", err)
		}
		sales, err := tx.ListAllSales(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sales: %w", err)
		}
		rollups = FoldRollups(sales)
		if err := tx.ReplaceRollups(ctx, rollups); err != nil {
			return fmt.Errorf("failed to replace rollups: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rollups, nil
}
