package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/warp/tax-engine/store"
	"github.com/warp/tax-engine/tax"
)

// app carries what every command shares: where the store is and where output
// goes.
type app struct {
	driver string
	dsn    string
	out    io.Writer
	logger *slog.Logger
	open   func(ctx context.Context) (store.Backend, error)
}

// withStore opens the store, runs fn against it and closes it. Client
// errors map to ExitUsageError.
func (a *app) withStore(ctx context.Context, fn func(store.Backend) error) subcommands.ExitStatus {
	backend, err := a.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		return subcommands.ExitFailure
	}
	defer backend.Close()

	if err := fn(backend); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if tax.IsClientError(err) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// decimalFlag is an optional decimal flag; it stays nil when not set.
type decimalFlag struct{ v *decimal.Decimal }

func (d *decimalFlag) String() string {
	if d.v == nil {
		return ""
	}
	return d.v.String()
}

func (d *decimalFlag) Set(s string) error {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("not a decimal: %q", s)
	}
	d.v = &v
	return nil
}

// itemsFlag collects repeated -item id:cost:rate values.
type itemsFlag []tax.LineInput

func (f *itemsFlag) String() string {
	parts := make([]string, len(*f))
	for i, it := range *f {
		parts[i] = fmt.Sprintf("%s:%s:%s", it.ItemID, it.Cost, it.TaxRate)
	}
	return strings.Join(parts, ",")
}

func (f *itemsFlag) Set(s string) error {
	it, err := parseItem(s)
	if err != nil {
		return err
	}
	*f = append(*f, it)
	return nil
}

// parseItem reads "id:cost:rate", e.g. "item1:1000:0.2".
func parseItem(s string) (tax.LineInput, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return tax.LineInput{}, fmt.Errorf("item %q: want id:cost:rate", s)
	}
	cost, err := decimal.NewFromString(parts[1])
	if err != nil {
		return tax.LineInput{}, fmt.Errorf("item %q: invalid cost", s)
	}
	rate, err := decimal.NewFromString(parts[2])
	if err != nil {
		return tax.LineInput{}, fmt.Errorf("item %q: invalid tax rate", s)
	}
	return tax.LineInput{ItemID: parts[0], Cost: &cost, TaxRate: &rate}, nil
}

// =============================================================================
// SALE
// =============================================================================

type saleCmd struct {
	*app
	date    string
	invoice string
	key     string
	items   itemsFlag
}

func (*saleCmd) Name() string     { return "sale" }
func (*saleCmd) Synopsis() string { return "record a sale with one or more items" }
func (*saleCmd) Usage() string {
	return `sale -date <date> -invoice <id> -item <id:cost:rate> [-item ...] [-key <idempotency key>]

  Appends a SALES event. Costs are in pennies; tax rates are fractions
  in [0, 1]. Repeat -item for each line of the invoice.
`
}

func (c *saleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "Sale date, ISO-8601 (required)")
	f.StringVar(&c.invoice, "invoice", "", "Invoice ID (required)")
	f.StringVar(&c.key, "key", "", "Idempotency key")
	f.Var(&c.items, "item", "Sale line as id:cost:rate (repeatable)")
}

func (c *saleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withStore(ctx, func(s store.Backend) error {
		sale, err := tax.NewLedger(s).RecordSale(ctx, tax.SaleInput{
			Date:           c.date,
			InvoiceID:      c.invoice,
			Items:          c.items,
			IdempotencyKey: c.key,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "sale %s recorded (%d items)\n", sale.ID, len(sale.Items))
		return nil
	})
}

// =============================================================================
// PAYMENT
// =============================================================================

type paymentCmd struct {
	*app
	date   string
	key    string
	amount decimalFlag
}

func (*paymentCmd) Name() string     { return "payment" }
func (*paymentCmd) Synopsis() string { return "record a tax payment" }
func (*paymentCmd) Usage() string {
	return `payment -date <date> -amount <pennies> [-key <idempotency key>]

  Appends a TAX_PAYMENT event.
`
}

func (c *paymentCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "Payment date, ISO-8601 (required)")
	f.StringVar(&c.key, "key", "", "Idempotency key")
	f.Var(&c.amount, "amount", "Amount paid, in pennies (required)")
}

func (c *paymentCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withStore(ctx, func(s store.Backend) error {
		payment, err := tax.NewLedger(s).RecordPayment(ctx, tax.PaymentInput{
			Date:           c.date,
			Amount:         c.amount.v,
			IdempotencyKey: c.key,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "payment %s recorded (%s)\n", payment.ID, payment.Amount)
		return nil
	})
}

// =============================================================================
// AMEND
// =============================================================================

type amendCmd struct {
	*app
	date    string
	invoice string
	item    string
	key     string
	cost    decimalFlag
	rate    decimalFlag
}

func (*amendCmd) Name() string     { return "amend" }
func (*amendCmd) Synopsis() string { return "amend the cost and tax rate of a sale line" }
func (*amendCmd) Usage() string {
	return `amend -date <date> -invoice <id> -item <id> -cost <pennies> -rate <rate> [-key <idempotency key>]

  Appends an amendment. It replaces the line's values for every query at
  or after its date. The sale does not need to exist yet.
`
}

func (c *amendCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "Amendment date, ISO-8601 (required)")
	f.StringVar(&c.invoice, "invoice", "", "Invoice ID (required)")
	f.StringVar(&c.item, "item", "", "Item ID (required)")
	f.StringVar(&c.key, "key", "", "Idempotency key")
	f.Var(&c.cost, "cost", "New cost, in pennies (required)")
	f.Var(&c.rate, "rate", "New tax rate (required)")
}

func (c *amendCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.withStore(ctx, func(s store.Backend) error {
		amendment, err := tax.NewLedger(s).Amend(ctx, tax.AmendmentInput{
			Date:           c.date,
			InvoiceID:      c.invoice,
			ItemID:         c.item,
			Cost:           c.cost.v,
			TaxRate:        c.rate.v,
			IdempotencyKey: c.key,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "amendment %s recorded for %s\n", amendment.ID, amendment.Key)
		return nil
	})
}

// =============================================================================
// POSITION
// =============================================================================

type positionCmd struct {
	*app
	date   string
	detail bool
}

func (*positionCmd) Name() string     { return "position" }
func (*positionCmd) Synopsis() string { return "print the tax position at a date" }
func (*positionCmd) Usage() string {
	return `position -date <date> [-detail]

  Prints tax owed minus tax paid, in pennies, as of the given instant.
  With -detail, prints each resolved item and any skipped record.
`
}

func (c *positionCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "Query instant, ISO-8601 (required)")
	f.BoolVar(&c.detail, "detail", false, "Print the per-item breakdown")
}

func (c *positionCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.date == "" {
		fmt.Fprintln(os.Stderr, "Error: -date is required.")
		return subcommands.ExitUsageError
	}
	return c.withStore(ctx, func(s store.Backend) error {
		engine := &tax.PositionEngine{Transactions: s, Amendments: s, Logger: c.logger}
		pos, err := engine.Resolve(ctx, c.date)
		if err != nil {
			return err
		}
		if !c.detail {
			fmt.Fprintln(c.out, pos.Net)
			return nil
		}
		return printPosition(c.out, pos)
	})
}

func printPosition(out io.Writer, pos *tax.Position) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "INVOICE\tITEM\tCOST\tRATE\tTAX\tSOURCE\n")
	for _, it := range pos.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.Key.InvoiceID, it.Key.ItemID, it.Cost, it.TaxRate, it.Tax, it.Source)
	}
	fmt.Fprintf(w, "\t\t\t\t\t\n")
	fmt.Fprintf(w, "total tax\t\t\t\t%s\t\n", pos.TotalTax)
	fmt.Fprintf(w, "payments\t\t\t\t%s\t\n", pos.TotalPayments)
	fmt.Fprintf(w, "position\t\t\t\t%s\t\n", pos.Net)
	if err := w.Flush(); err != nil {
		return err
	}
	for _, key := range pos.Unresolved {
		fmt.Fprintf(out, "unresolved: %s\n", key)
	}
	for _, skip := range pos.Skipped {
		fmt.Fprintf(out, "skipped: %v\n", skip)
	}
	return nil
}

// =============================================================================
// RESET
// =============================================================================

type resetCmd struct {
	*app
	yes bool
}

func (*resetCmd) Name() string     { return "reset" }
func (*resetCmd) Synopsis() string { return "delete every recorded event" }
func (*resetCmd) Usage() string {
	return `reset -yes

  Clears both event logs and the idempotency keys. Meant for demo
  databases only.
`
}

func (c *resetCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.yes, "yes", false, "Confirm the reset")
}

func (c *resetCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.yes {
		fmt.Fprintln(os.Stderr, "Error: reset deletes every event; pass -yes to confirm.")
		return subcommands.ExitUsageError
	}
	return c.withStore(ctx, func(s store.Backend) error {
		if err := s.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "store reset")
		return nil
	})
}
