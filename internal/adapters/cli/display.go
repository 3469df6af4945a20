package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"stock-settlement/internal/app"
	"stock-settlement/internal/core"
)

func printTenure(out io.Writer, result *app.TenureResult) {
	fmt.Fprintf(out, "Tenure kind: %s\n", result.Spec.Kind)
	for _, c := range result.Choices {
		fmt.Fprintf(out, "  %-12s %6d days\n", c.Label, c.Days)
	}
}

func printStock(out io.Writer, items []core.StockItem) {
	fmt.Fprintln(out, strings.Repeat("=", 96))
	fmt.Fprintf(out, "  %-36s %-12s %-10s %-9s %10s %10s %6s\n", "ID", "PRODUCT", "PLAN", "STATUS", "CAPITAL", "PRICE", "AVAIL")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, it := range items {
		fmt.Fprintf(out, "  %-36s %-12s %-10s %-9s %10s %10s %6d\n",
			it.ID, it.ProductCode, it.Plan, it.Status,
			it.Capital.StringFixed(core.MoneyPlaces), it.Price.StringFixed(core.MoneyPlaces), it.AvailableQuantity)
	}
	fmt.Fprintln(out, strings.Repeat("=", 96))
}

func printSettlement(out io.Writer, r *core.SettlementResult) {
	fmt.Fprintf(out, "Sale %s recorded.\n", r.Sale.ID)
	fmt.Fprintf(out, "  Item       : %s (%s)\n", r.Item.ID, r.Item.Status)
	fmt.Fprintf(out, "  Quantity   : %d @ %s\n", r.Sale.Quantity, r.Sale.SoldPrice.StringFixed(core.MoneyPlaces))
	fmt.Fprintf(out, "  Revenue    : %s\n", r.Sale.Revenue.StringFixed(core.MoneyPlaces))
	fmt.Fprintf(out, "  Margin     : %s\n", r.Sale.Margin.StringFixed(core.MoneyPlaces))
	fmt.Fprintf(out, "  Commission : %s (rate %s, v%d)\n",
		r.Sale.Commission.StringFixed(core.MoneyPlaces), r.Sale.CommissionRate.String(), r.Sale.SettingsVersion)
	if r.Grant != nil {
		fmt.Fprintf(out, "  Access     : %s until %s\n", r.Grant.ID, r.Grant.ExpiresAt.Format(time.RFC3339))
	}
	if r.Item.Credentials != nil && r.Item.Kind == core.StockKindSingleton {
		c := r.Item.Credentials
		fmt.Fprintf(out, "  Login      : %s / %s", c.Email, c.Password)
		if c.Profile != "" {
			fmt.Fprintf(out, " (profile %s", c.Profile)
			if c.PIN != "" {
				fmt.Fprintf(out, ", pin %s", c.PIN)
			}
			fmt.Fprint(out, ")")
		}
		fmt.Fprintln(out)
	}
}

func printSales(out io.Writer, result *app.SalesResult) {
	fmt.Fprintln(out, strings.Repeat("=", 92))
	fmt.Fprintf(out, "  %-20s %-12s %-12s %5s %12s %12s %12s\n", "SOLD AT", "SELLER", "BUYER", "QTY", "REVENUE", "MARGIN", "COMMISSION")
	fmt.Fprintln(out, strings.Repeat("-", 92))
	for _, s := range result.Sales {
		fmt.Fprintf(out, "  %-20s %-12s %-12s %5d %12s %12s %12s\n",
			s.SoldAt.UTC().Format(time.RFC3339), s.SellerID, s.BuyerID, s.Quantity,
			s.Revenue.StringFixed(core.MoneyPlaces), s.Margin.StringFixed(core.MoneyPlaces), s.Commission.StringFixed(core.MoneyPlaces))
	}
	fmt.Fprintln(out, strings.Repeat("-", 92))
	fmt.Fprintf(out, "  %-58s %12s %25s\n", "TOTAL",
		result.Revenue.StringFixed(core.MoneyPlaces), result.Commission.StringFixed(core.MoneyPlaces))
	fmt.Fprintln(out, strings.Repeat("=", 92))
}

func printRollups(out io.Writer, rollups []core.AdminRollup) {
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "  %-16s %6s %6s %12s %12s  %-20s\n", "SELLER", "SALES", "UNITS", "REVENUE", "COMMISSION", "LAST SALE")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, r := range rollups {
		last := "-"
		if r.LastSaleAt != nil {
			last = r.LastSaleAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(out, "  %-16s %6d %6d %12s %12s  %-20s\n",
			r.SellerID, r.SaleCount, r.UnitsSold,
			r.Revenue.StringFixed(core.MoneyPlaces), r.Commission.StringFixed(core.MoneyPlaces), last)
	}
	fmt.Fprintln(out, strings.Repeat("=", 80))
}

func printGrants(out io.Writer, grants []core.AccessGrant) {
	if len(grants) == 0 {
		fmt.Fprintln(out, "No access grants expiring in the window.")
		return
	}
	for _, g := range grants {
		fmt.Fprintf(out, "  %-36s buyer %-12s expires %s\n", g.ID, g.BuyerID, g.ExpiresAt.UTC().Format(time.RFC3339))
	}
}
