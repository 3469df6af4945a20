package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places persisted and displayed for money.
const MoneyPlaces = 2

var (
	// DefaultCommissionRate applies until an owner sets a different rate.
	DefaultCommissionRate = decimal.RequireFromString("0.25")
	// MaxCommissionRate is the inclusive upper bound of a commission rate.
	MaxCommissionRate = decimal.RequireFromString("0.5")
)

// CommissionBreakdown is the result of a commission computation at full precision.
type CommissionBreakdown struct {
	Revenue    decimal.Decimal
	Margin     decimal.Decimal
	Commission decimal.Decimal
}

// Rounded returns the breakdown rounded for persistence.
func (b CommissionBreakdown) Rounded() CommissionBreakdown {
	return CommissionBreakdown{
		Revenue:    RoundMoney(b.Revenue),
		Margin:     RoundMoney(b.Margin),
		Commission: RoundMoney(b.Commission),
	}
}

// NewCommissionRate validates rate against [0, 0.5].
func NewCommissionRate(rate decimal.Decimal) (decimal.Decimal, error) {
	if rate.IsNegative() || rate.GreaterThan(MaxCommissionRate) {
		return decimal.Zero, fmt.Errorf("%w: %s not in [0, %s]", ErrRateOutOfRange, rate, MaxCommissionRate)
	}
	return rate, nil
}

// ParseCommissionRate parses and validates a textual rate such as "0.3".
func ParseCommissionRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: rate %q is not a number", ErrInvalidRequest, s)
	}
	return NewCommissionRate(rate)
}

// CalculateCommission computes margin = max(price - capital, 0) and commission = margin * rate.
// Underwater sales yield zero commission, never a negative payout.
func CalculateCommission(price, capital, rate decimal.Decimal) (CommissionBreakdown, error) {
	return CalculateSaleCommission(price, capital, 1, rate)
}

// CalculateSaleCommission computes the split for quantity units sold at unitPrice
// with a per-unit cost basis of unitCapital.
func CalculateSaleCommission(unitPrice, unitCapital decimal.Decimal, quantity int, rate decimal.Decimal) (CommissionBreakdown, error) {
	if unitPrice.IsNegative() {
		return CommissionBreakdown{}, fmt.Errorf("%w: negative price %s", ErrInvalidRequest, unitPrice)
	}
	if unitCapital.IsNegative() {
		return CommissionBreakdown{}, fmt.Errorf("%w: negative capital %s", ErrInvalidRequest, unitCapital)
	}
	if quantity <= 0 {
		return CommissionBreakdown{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidRequest, quantity)
	}
	if _, err := NewCommissionRate(rate); err != nil {
		return CommissionBreakdown{}, err
	}

	qty := decimal.NewFromInt(int64(quantity))
	unitMargin := decimal.Max(unitPrice.Sub(unitCapital), decimal.Zero)
	margin := unitMargin.Mul(qty)
	return CommissionBreakdown{
		Revenue:    unitPrice.Mul(qty),
		Margin:     margin,
		Commission: margin.Mul(rate),
	}, nil
}

// RoundMoney rounds d to two decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
