// Package store holds what the SQL record stores share: column lists and
// the encoding of values that have no native column type.
package store

import (
	"encoding/json"
	"fmt"

	"stock-settlement/internal/core"
)

// Column lists shared by every dialect. Scan order must follow these.
const (
	StockColumns = `id, product_code, plan, kind, capital, price, quantity, available_quantity,
		credentials, tenure_days, status, buyer_id, reserved_by, version, created_at, updated_at`

	SaleColumns = `id, stock_item_id, seller_id, buyer_id, quantity, sold_price, capital, revenue,
		margin, commission_rate, commission, settings_version, notes, sold_at`

	GrantColumns = `id, sale_id, stock_item_id, buyer_id, availed_at, duration_days, extra_days,
		expires_at, updated_at`

	RollupColumns = `seller_id, sale_count, units_sold, revenue, commission, last_sale_at`

	SettingsColumns = `rate, version, maintenance_mode, updated_at, updated_by`
)

// EncodeCredentials returns the JSON text for c, or nil for no credentials.
func EncodeCredentials(c *core.Credentials) (*string, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}
	s := string(b)
	return &s, nil
}

// DecodeCredentials parses stored credentials. Empty input means none.
func DecodeCredentials(raw []byte) (*core.Credentials, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c core.Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &c, nil
}
