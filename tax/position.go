/*
position.go - Temporal merge and resolution of the tax position

PURPOSE:
  Answers "what was the tax position at instant D?" by replaying the
  transaction log and the amendment log up to D. Nothing is cached: every
  call re-reads both logs and re-derives everything.

RESOLUTION PROCESS:
  1. Parse D strictly (date.go). Invalid input fails before any store access.
  2. Fetch transactions and amendments dated <= D, concurrently.
  3. Convert records to events, skipping malformed ones.
  4. Build one ItemHistory per (invoice, item):
       - baseline = the sale line with the latest date (ties: last processed)
       - amendments = every amendment naming the key, in arrival order
  5. Sum tax payments.
  6. Resolve each history:
       - any amendment dated <= D   -> the chronologically last amendment
       - else baseline dated <= D   -> the baseline
       - else                       -> the item contributes nothing
  7. Tax per item = cost * rate, summed.
  8. Position = total tax - total payments.

AMENDMENT DOMINANCE:
  An amendment overrides the sale baseline even when it is dated before the
  sale. Once both are visible, the amendment wins.

CONCURRENCY:
  PositionEngine has no mutable state. Concurrent calls are independent. The
  two reads are not isolated from each other: with concurrent appends the
  result is "approximately as of" D.

EXAMPLE:
  engine := &tax.PositionEngine{Transactions: store, Amendments: store}
  net, err := engine.TaxPosition(ctx, "2024-02-22T17:29:39Z")
*/
package tax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/warp/tax-engine/tax"

// =============================================================================
// RESULT TYPES
// =============================================================================

// Source says which event supplied an item's authoritative values.
type Source string

const (
	SourceSale      Source = "sale"
	SourceAmendment Source = "amendment"
)

// ResolvedItem is one line's authoritative values as of the query instant.
type ResolvedItem struct {
	Key         ItemKey
	Cost        decimal.Decimal
	TaxRate     decimal.Decimal
	Tax         decimal.Decimal
	Source      Source
	EffectiveAt time.Time // date of the event that supplied the values
}

// Position is the full breakdown of a resolution.
type Position struct {
	AsOf          time.Time
	TotalTax      decimal.Decimal
	TotalPayments decimal.Decimal
	Net           decimal.Decimal

	// Items are sorted by key.
	Items []ResolvedItem

	// Unresolved lists keys that had a history but no usable value.
	Unresolved []ItemKey

	// Skipped lists malformed records and sale lines left out of the
	// computation.
	Skipped []*MalformedEventError
}

// =============================================================================
// ITEM HISTORY - Transient, built per resolution
// =============================================================================

// Baseline is the value a sale established for a line.
type Baseline struct {
	Date    time.Time
	Cost    decimal.Decimal
	TaxRate decimal.Decimal
}

// ItemHistory collects everything known about one line up to the query.
type ItemHistory struct {
	Key        ItemKey
	Baseline   *Baseline
	Amendments []AmendmentEvent // arrival order
}

// Resolve picks the authoritative value as of at. ok is false when the item
// has nothing usable yet.
func (h *ItemHistory) Resolve(at time.Time) (item ResolvedItem, ok bool) {
	var valid []AmendmentEvent
	for _, a := range h.Amendments {
		if !a.Date.After(at) {
			valid = append(valid, a)
		}
	}

	switch {
	case len(valid) > 0:
		sort.SliceStable(valid, func(i, j int) bool {
			return valid[i].Date.Before(valid[j].Date)
		})
		last := valid[len(valid)-1]
		item = ResolvedItem{Key: h.Key, Cost: last.Cost, TaxRate: last.TaxRate, Source: SourceAmendment, EffectiveAt: last.Date}
	case h.Baseline != nil && !h.Baseline.Date.After(at):
		b := h.Baseline
		item = ResolvedItem{Key: h.Key, Cost: b.Cost, TaxRate: b.TaxRate, Source: SourceSale, EffectiveAt: b.Date}
	default:
		return ResolvedItem{}, false
	}

	item.Tax = ItemTax(item.Cost, item.TaxRate)
	return item, true
}

// =============================================================================
// PURE PIPELINE
// =============================================================================

// ResolveAt runs steps 3 to 8 on already fetched records. It is
// deterministic for a given input order and never fails.
func ResolveAt(at time.Time, txs []TransactionRecord, ams []AmendmentRecord) *Position {
	events, skipped := collectEvents(txs, ams)
	pos := resolveEvents(at, events)
	pos.Skipped = skipped
	return pos
}

// collectEvents converts records to events. Transactions come first, then
// amendments, each in the order given.
func collectEvents(txs []TransactionRecord, ams []AmendmentRecord) ([]Event, []*MalformedEventError) {
	events := make([]Event, 0, len(txs)+len(ams))
	var skipped []*MalformedEventError

	for _, r := range txs {
		ev, lines, err := r.Event()
		skipped = append(skipped, lines...)
		if err != nil {
			skipped = appendMalformed(skipped, err)
			continue
		}
		events = append(events, ev)
	}
	for _, r := range ams {
		ev, err := r.Event()
		if err != nil {
			skipped = appendMalformed(skipped, err)
			continue
		}
		events = append(events, ev)
	}
	return events, skipped
}

func appendMalformed(skipped []*MalformedEventError, err error) []*MalformedEventError {
	var me *MalformedEventError
	if errors.As(err, &me) {
		return append(skipped, me)
	}
	return append(skipped, &MalformedEventError{Kind: "UNKNOWN", Field: err.Error()})
}

func resolveEvents(at time.Time, events []Event) *Position {
	histories := make(map[ItemKey]*ItemHistory)
	history := func(k ItemKey) *ItemHistory {
		h, ok := histories[k]
		if !ok {
			h = &ItemHistory{Key: k}
			histories[k] = h
		}
		return h
	}

	payments := decimal.Zero
	// Stores only return events dated <= at. Later events are still kept
	// out of every value below, so a misbehaving store cannot leak them.
	for _, ev := range events {
		switch e := ev.(type) {
		case SaleEvent:
			for _, line := range e.Items {
				h := history(ItemKey{InvoiceID: e.InvoiceID, ItemID: line.ItemID})
				if e.Date.After(at) {
					continue
				}
				// Latest sale date wins; on equal dates the later event in
				// store order (date, created_at, insertion) wins.
				if h.Baseline == nil || !e.Date.Before(h.Baseline.Date) {
					h.Baseline = &Baseline{Date: e.Date, Cost: line.Cost, TaxRate: line.TaxRate}
				}
			}
		case AmendmentEvent:
			h := history(e.Key)
			h.Amendments = append(h.Amendments, e)
		case TaxPaymentEvent:
			if !e.Date.After(at) {
				payments = payments.Add(e.Amount)
			}
		default:
			panic("tax: unknown event kind")
		}
	}

	keys := make([]ItemKey, 0, len(histories))
	for k := range histories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	pos := &Position{AsOf: at, TotalPayments: payments}
	for _, k := range keys {
		item, ok := histories[k].Resolve(at)
		if !ok {
			pos.Unresolved = append(pos.Unresolved, k)
			continue
		}
		pos.Items = append(pos.Items, item)
	}
	pos.TotalTax = SumTax(pos.Items)
	pos.Net = NetPosition(pos.TotalTax, pos.TotalPayments)
	return pos
}

// =============================================================================
// POSITION ENGINE - Fetch, then resolve
// =============================================================================

// PositionEngine resolves tax positions against two read-only sources.
// Logger and Tracer are optional.
type PositionEngine struct {
	Transactions TransactionSource
	Amendments   AmendmentSource
	Logger       *slog.Logger
	Tracer       trace.Tracer
}

// TaxPosition returns total tax minus total payments as of date.
func (e *PositionEngine) TaxPosition(ctx context.Context, date string) (decimal.Decimal, error) {
	pos, err := e.Resolve(ctx, date)
	if err != nil {
		return decimal.Zero, err
	}
	return pos.Net, nil
}

// Resolve computes the full position breakdown as of date.
//
// Errors: a *DateFormatError (no store is called), or the first error
// returned by either source, unmodified.
func (e *PositionEngine) Resolve(ctx context.Context, date string) (*Position, error) {
	at, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer().Start(ctx, "tax.Resolve",
		trace.WithAttributes(attribute.String("tax.as_of", FormatDate(at))))
	defer span.End()

	var (
		txs []TransactionRecord
		ams []AmendmentRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = e.Transactions.FindTransactionsUpTo(gctx, at)
		return err
	})
	g.Go(func() error {
		var err error
		ams, err = e.Amendments.FindAmendmentsUpTo(gctx, at)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	pos := ResolveAt(at, txs, ams)

	log := e.logger()
	for _, s := range pos.Skipped {
		log.DebugContext(ctx, "skipped malformed event", "kind", s.Kind, "id", s.ID, "missing", s.Field)
	}
	log.InfoContext(ctx, "tax position resolved",
		"as_of", at,
		"transactions", len(txs),
		"amendments", len(ams),
		"items", len(pos.Items),
		"unresolved", len(pos.Unresolved),
		"skipped", len(pos.Skipped),
		"position", pos.Net.String(),
	)
	span.SetAttributes(
		attribute.Int("tax.items", len(pos.Items)),
		attribute.Int("tax.skipped", len(pos.Skipped)),
		attribute.String("tax.position", pos.Net.String()),
	)
	return pos, nil
}

func (e *PositionEngine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

func (e *PositionEngine) tracer() trace.Tracer {
	if e.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return e.Tracer
}
