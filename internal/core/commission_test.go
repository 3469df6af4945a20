package core_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-settlement/internal/core"
)

func TestCalculateCommission_Scenario(t *testing.T) {
	got, err := core.CalculateCommission(dec("100"), dec("40"), dec("0.25"))
	require.NoError(t, err)
	assertDecimal(t, "60", got.Margin)
	assertDecimal(t, "15", got.Commission)
	assert.Equal(t, "15.00", core.RoundMoney(got.Commission).StringFixed(2))
}

func TestCalculateCommission_Properties(t *testing.T) {
	rates := []string{"0", "0.1", "0.25", "0.333", "0.5"}
	amounts := []string{"0", "0.01", "1", "40", "99.99", "100", "1250.5"}

	for _, r := range rates {
		rate := dec(r)
		for _, p := range amounts {
			for _, c := range amounts {
				price, capital := dec(p), dec(c)
				got, err := core.CalculateCommission(price, capital, rate)
				require.NoError(t, err)
				assert.False(t, got.Commission.IsNegative(), "price=%s capital=%s rate=%s", p, c, r)
				if price.GreaterThanOrEqual(capital) {
					assertDecimal(t, price.Sub(capital).Mul(rate).String(), got.Commission, p, c, r)
				} else {
					assert.True(t, got.Margin.IsZero(), "underwater margin must be zero")
					assert.True(t, got.Commission.IsZero(), "underwater commission must be zero")
				}
			}
		}
	}
}

func TestCalculateCommission_RateOutOfRange(t *testing.T) {
	for _, r := range []string{"-0.01", "0.51", "1"} {
		_, err := core.CalculateCommission(dec("100"), dec("40"), dec(r))
		assert.True(t, errors.Is(err, core.ErrRateOutOfRange), "rate %s: %v", r, err)
	}
}

func TestCalculateCommission_NegativeInputs(t *testing.T) {
	_, err := core.CalculateCommission(dec("-1"), dec("0"), dec("0.25"))
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))
	_, err = core.CalculateCommission(dec("1"), dec("-1"), dec("0.25"))
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))
}

func TestCalculateSaleCommission_MultiUnit(t *testing.T) {
	got, err := core.CalculateSaleCommission(dec("25"), dec("10"), 3, dec("0.3"))
	require.NoError(t, err)
	assertDecimal(t, "75", got.Revenue)
	assertDecimal(t, "45", got.Margin)
	assertDecimal(t, "13.5", got.Commission)

	_, err = core.CalculateSaleCommission(dec("25"), dec("10"), 0, dec("0.3"))
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))
}

func TestRoundMoney(t *testing.T) {
	tests := map[string]string{
		"1.005":   "1.01",
		"1.004":   "1",
		"2.675":   "2.68",
		"-1.005":  "-1.01",
		"33.3333": "33.33",
	}
	for in, want := range tests {
		assertDecimal(t, want, core.RoundMoney(dec(in)), in)
	}
}

func TestParseCommissionRate(t *testing.T) {
	rate, err := core.ParseCommissionRate("0.3")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromFloat(0.3)))

	_, err = core.ParseCommissionRate("abc")
	assert.True(t, errors.Is(err, core.ErrInvalidRequest))

	_, err = core.ParseCommissionRate("0.6")
	assert.True(t, errors.Is(err, core.ErrRateOutOfRange))
}
