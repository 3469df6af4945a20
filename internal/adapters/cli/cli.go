package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stock-settlement/internal/app"
	"stock-settlement/internal/core"
)

// ErrUsage is returned for malformed command lines.
var ErrUsage = errors.New("usage")

const usage = `Available: tenure, add-stock, edit-stock, remove-stock, stock, sell, reserve,
           release, extend, sales, rollups, expiring, rate, recalc, rebuild-rollups, token`

// Run executes a one-shot CLI command, writing results to out.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: settle <command>\n%s", ErrUsage, usage)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "tenure":
		if len(rest) < 1 {
			return fmt.Errorf("%w: settle tenure \"<spec>\"", ErrUsage)
		}
		result, err := svc.ParseTenure(strings.Join(rest, " "))
		if err != nil {
			return err
		}
		printTenure(out, result)

	case "add-stock":
		return addStock(ctx, svc, rest, out)

	case "edit-stock":
		return editStock(ctx, svc, rest, out)

	case "remove-stock":
		if len(rest) != 1 {
			return fmt.Errorf("%w: settle remove-stock <stock-item-id>", ErrUsage)
		}
		if err := svc.RemoveStock(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %s.\n", rest[0])

	case "stock":
		return stock(ctx, svc, rest, out)

	case "sell":
		return sell(ctx, svc, rest, out)

	case "reserve", "release":
		if len(rest) != 1 {
			return fmt.Errorf("%w: settle %s <stock-item-id>", ErrUsage, cmd)
		}
		var item *core.StockItem
		var err error
		if cmd == "reserve" {
			item, err = svc.ReserveItem(ctx, rest[0])
		} else {
			item, err = svc.ReleaseItem(ctx, rest[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Item %s is now %s.\n", item.ID, item.Status)

	case "extend":
		if len(rest) != 2 {
			return fmt.Errorf("%w: settle extend <grant-id> <days>", ErrUsage)
		}
		days, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("%w: days must be a whole number: %q", ErrUsage, rest[1])
		}
		grant, err := svc.ExtendAccess(ctx, rest[0], days)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Grant %s now expires %s (+%d extra days).\n",
			grant.ID, grant.ExpiresAt.Format(time.RFC3339), grant.ExtraDays)

	case "sales":
		return sales(ctx, svc, rest, out)

	case "rollups":
		result, err := svc.ListRollups(ctx)
		if err != nil {
			return err
		}
		printRollups(out, result.Rollups)

	case "expiring":
		fs := newFlagSet("expiring")
		within := fs.Duration("within", 0, "look-ahead window (default from EXPIRY_WINDOW)")
		if err := parse(fs, rest); err != nil {
			return err
		}
		result, err := svc.ExpiringGrants(ctx, *within)
		if err != nil {
			return err
		}
		printGrants(out, result.Grants)

	case "rate":
		var settings core.CommissionSettings
		var err error
		if len(rest) == 0 {
			settings, err = svc.GetCommissionSettings(ctx)
		} else {
			settings, err = svc.SetCommissionRate(ctx, rest[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Commission rate %s (version %d, maintenance %t)\n",
			settings.Rate.String(), settings.Version, settings.MaintenanceMode)

	case "recalc":
		report, err := svc.RecalculateCommissions(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Recalculated at rate %s (version %d): %d of %d sales updated.\n",
			report.Rate.String(), report.Version, report.SalesUpdated, report.SalesScanned)
		printRollups(out, report.Rollups)

	case "rebuild-rollups":
		result, err := svc.RebuildRollups(ctx)
		if err != nil {
			return err
		}
		printRollups(out, result.Rollups)

	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, cmd, usage)
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	return nil
}

func addStock(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	fs := newFlagSet("add-stock")
	product := fs.String("product", "", "product code")
	plan := fs.String("plan", "", "plan name")
	kind := fs.String("kind", string(core.StockKindSingleton), "singleton or pooled")
	capital := fs.String("capital", "", "per-unit cost")
	price := fs.String("price", "", "per-unit list price")
	qty := fs.Int("qty", 0, "quantity (pooled)")
	tenure := fs.String("tenure", "", "tenure spec, e.g. \"30 days\" or \"1-3 months\"")
	email := fs.String("email", "", "account email (singleton)")
	password := fs.String("password", "", "account password (singleton)")
	profile := fs.String("profile", "", "profile name")
	pin := fs.String("pin", "", "profile pin")
	if err := parse(fs, args); err != nil {
		return err
	}

	capitalDec, err := parseMoney("capital", *capital)
	if err != nil {
		return err
	}
	priceDec, err := parseMoney("price", *price)
	if err != nil {
		return err
	}

	req := app.AddStockRequest{
		ProductCode: *product,
		Plan:        *plan,
		Kind:        core.StockKind(*kind),
		Capital:     capitalDec,
		Price:       priceDec,
		Quantity:    *qty,
		Tenure:      *tenure,
	}
	if *email != "" || *password != "" {
		req.Credentials = &core.Credentials{Email: *email, Password: *password, Profile: *profile, PIN: *pin}
	}

	item, err := svc.AddStock(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Added %s %s (%s) qty %d: %s\n", item.ProductCode, item.Plan, item.Kind, item.Quantity, item.ID)
	return nil
}

func editStock(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("%w: settle edit-stock <stock-item-id> [-product] [-plan] [-capital] [-price] [-tenure] [-version]", ErrUsage)
	}
	id := args[0]

	fs := newFlagSet("edit-stock")
	product := fs.String("product", "", "new product code")
	plan := fs.String("plan", "", "new plan name")
	capital := fs.String("capital", "", "new per-unit cost")
	price := fs.String("price", "", "new per-unit list price")
	tenure := fs.String("tenure", "", "new tenure spec")
	email := fs.String("email", "", "new account email (singleton)")
	password := fs.String("password", "", "new account password (singleton)")
	profile := fs.String("profile", "", "new profile name")
	pin := fs.String("pin", "", "new profile pin")
	version := fs.Int("version", 0, "reject the edit unless the item is at this version")
	if err := parse(fs, args[1:]); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	req := app.UpdateStockRequest{ExpectedVersion: *version}
	if set["product"] {
		req.ProductCode = product
	}
	if set["plan"] {
		req.Plan = plan
	}
	if set["tenure"] {
		req.Tenure = tenure
	}
	if set["capital"] {
		d, err := parseMoney("capital", *capital)
		if err != nil {
			return err
		}
		req.Capital = decimal.NewNullDecimal(d)
	}
	if set["price"] {
		d, err := parseMoney("price", *price)
		if err != nil {
			return err
		}
		req.Price = decimal.NewNullDecimal(d)
	}
	if set["email"] || set["password"] {
		req.Credentials = &core.Credentials{Email: *email, Password: *password, Profile: *profile, PIN: *pin}
	}

	item, err := svc.UpdateStock(ctx, id, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Updated %s: %s %s capital %s price %s tenure %dd (version %d)\n",
		item.ID, item.ProductCode, item.Plan,
		item.Capital.StringFixed(core.MoneyPlaces), item.Price.StringFixed(core.MoneyPlaces),
		item.TenureDays, item.Version)
	return nil
}

func stock(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	fs := newFlagSet("stock")
	id := fs.String("id", "", "show one item as JSON")
	status := fs.String("status", "", "filter by status")
	product := fs.String("product", "", "filter by product code")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *id != "" {
		item, err := svc.GetStockItem(ctx, *id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	}

	result, err := svc.ListStock(ctx, core.StockFilter{Status: core.StockStatus(*status), ProductCode: *product})
	if err != nil {
		return err
	}
	printStock(out, result.Items)
	return nil
}

func sell(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	fs := newFlagSet("sell")
	item := fs.String("item", "", "stock item id")
	qty := fs.Int("qty", 1, "quantity")
	price := fs.String("price", "", "per-unit sold price (default: list price)")
	buyer := fs.String("buyer", "", "buyer id")
	days := fs.Int("days", 0, "rental duration in days (default: item tenure)")
	extra := fs.Int("extra", 0, "bonus days")
	availed := fs.String("availed", "", "access start, YYYY-MM-DD or RFC3339 (default: now)")
	notes := fs.String("notes", "", "free-form notes")
	key := fs.String("key", "", "idempotency key")
	if err := parse(fs, args); err != nil {
		return err
	}

	req := app.SellRequest{
		StockItemID:    *item,
		Quantity:       *qty,
		BuyerID:        *buyer,
		DurationDays:   *days,
		ExtraDays:      *extra,
		Notes:          *notes,
		IdempotencyKey: *key,
	}
	if *price != "" {
		p, err := parseMoney("price", *price)
		if err != nil {
			return err
		}
		req.SoldPrice = decimal.NewNullDecimal(p)
	}
	if *availed != "" {
		t, err := parseTime(*availed)
		if err != nil {
			return err
		}
		req.AvailedAt = t
	}

	result, err := svc.SettleSale(ctx, req)
	if err != nil {
		return err
	}
	printSettlement(out, result)
	return nil
}

func sales(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	fs := newFlagSet("sales")
	seller := fs.String("seller", "", "filter by seller id")
	item := fs.String("item", "", "filter by stock item id")
	since := fs.String("since", "", "only sales at or after, YYYY-MM-DD or RFC3339")
	if err := parse(fs, args); err != nil {
		return err
	}

	filter := core.SaleFilter{SellerID: *seller, StockItemID: *item}
	if *since != "" {
		t, err := parseTime(*since)
		if err != nil {
			return err
		}
		filter.Since = t
	}

	result, err := svc.ListSales(ctx, filter)
	if err != nil {
		return err
	}
	printSales(out, result)
	return nil
}

func parseMoney(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: -%s is required", ErrUsage, name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: -%s %q is not a number", ErrUsage, name, s)
	}
	return d, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD or RFC3339", ErrUsage, s)
	}
	return t, nil
}
