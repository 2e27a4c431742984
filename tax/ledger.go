/*
ledger.go - Validated, append-only ingestion of tax events

PURPOSE:
  The Ledger is the only write path. It validates an incoming sale, payment
  or amendment, assigns it an ID and appends it to the Store. Events are
  never updated or deleted; a wrong sale line is corrected by an amendment.

VALIDATION RULES:
  - date:      strict ISO-8601 (ParseDate)
  - invoiceId: required for sales and amendments
  - items:     at least one line per sale, each with an itemId
  - cost:      required, >= 0
  - taxRate:   required, within [0, 1]
  - amount:    required for payments, >= 0

  All violations are reported together, joined, each one a *ValidationError.

IDEMPOTENCY:
  A non-empty IdempotencyKey is stored with the event. Appending a second
  event with the same key fails with ErrDuplicateIdempotencyKey, which makes
  client retries safe.

SEE ALSO:
  - store.go:    Store interface
  - position.go: Reads what the ledger writes
*/
package tax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS
// =============================================================================

// SaleInput is an unvalidated sale.
type SaleInput struct {
	Date           string
	InvoiceID      string
	Items          []LineInput
	IdempotencyKey string
}

// LineInput is an unvalidated sale line.
type LineInput struct {
	ItemID  string
	Cost    *decimal.Decimal
	TaxRate *decimal.Decimal
}

// PaymentInput is an unvalidated tax payment.
type PaymentInput struct {
	Date           string
	Amount         *decimal.Decimal
	IdempotencyKey string
}

// AmendmentInput is an unvalidated amendment.
type AmendmentInput struct {
	Date           string
	InvoiceID      string
	ItemID         string
	Cost           *decimal.Decimal
	TaxRate        *decimal.Decimal
	IdempotencyKey string
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger validates events and appends them to a Store.
type Ledger struct {
	Store Store

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store, Now: time.Now, NewID: uuid.NewString}
}

// RecordSale validates and appends a SALES transaction.
func (l *Ledger) RecordSale(ctx context.Context, in SaleInput) (SaleEvent, error) {
	var errs []error
	date, err := parseField("date", in.Date)
	if err != nil {
		errs = append(errs, err)
	}
	if in.InvoiceID == "" {
		errs = append(errs, &ValidationError{Field: "invoiceId", Message: "required"})
	}
	if len(in.Items) == 0 {
		errs = append(errs, &ValidationError{Field: "items", Message: "at least one item is required"})
	}

	sale := SaleEvent{Date: date, InvoiceID: in.InvoiceID}
	for i, it := range in.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		if it.ItemID == "" {
			errs = append(errs, &ValidationError{Field: prefix + "itemId", Message: "required"})
		}
		errs = append(errs, checkCost(prefix+"cost", it.Cost)...)
		errs = append(errs, checkRate(prefix+"taxRate", it.TaxRate)...)
		if it.Cost != nil && it.TaxRate != nil {
			sale.Items = append(sale.Items, LineItem{ItemID: it.ItemID, Cost: *it.Cost, TaxRate: *it.TaxRate})
		}
	}
	if len(errs) > 0 {
		return SaleEvent{}, errors.Join(errs...)
	}

	sale.ID = l.newID()
	rec := sale.Record()
	rec.IdempotencyKey = in.IdempotencyKey
	rec.CreatedAt = l.now()
	if err := l.Store.AppendTransaction(ctx, rec); err != nil {
		return SaleEvent{}, err
	}
	return sale, nil
}

// RecordPayment validates and appends a TAX_PAYMENT transaction.
func (l *Ledger) RecordPayment(ctx context.Context, in PaymentInput) (TaxPaymentEvent, error) {
	var errs []error
	date, err := parseField("date", in.Date)
	if err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, checkCost("amount", in.Amount)...)
	if len(errs) > 0 {
		return TaxPaymentEvent{}, errors.Join(errs...)
	}

	payment := TaxPaymentEvent{ID: l.newID(), Date: date, Amount: *in.Amount}
	rec := payment.Record()
	rec.IdempotencyKey = in.IdempotencyKey
	rec.CreatedAt = l.now()
	if err := l.Store.AppendTransaction(ctx, rec); err != nil {
		return TaxPaymentEvent{}, err
	}
	return payment, nil
}

// Amend validates and appends an amendment. The targeted sale does not need
// to exist: an amendment can originate an item.
func (l *Ledger) Amend(ctx context.Context, in AmendmentInput) (AmendmentEvent, error) {
	var errs []error
	date, err := parseField("date", in.Date)
	if err != nil {
		errs = append(errs, err)
	}
	if in.InvoiceID == "" {
		errs = append(errs, &ValidationError{Field: "invoiceId", Message: "required"})
	}
	if in.ItemID == "" {
		errs = append(errs, &ValidationError{Field: "itemId", Message: "required"})
	}
	errs = append(errs, checkCost("cost", in.Cost)...)
	errs = append(errs, checkRate("taxRate", in.TaxRate)...)
	if len(errs) > 0 {
		return AmendmentEvent{}, errors.Join(errs...)
	}

	amendment := AmendmentEvent{
		ID:      l.newID(),
		Date:    date,
		Key:     ItemKey{InvoiceID: in.InvoiceID, ItemID: in.ItemID},
		Cost:    *in.Cost,
		TaxRate: *in.TaxRate,
	}
	rec := amendment.Record()
	rec.IdempotencyKey = in.IdempotencyKey
	rec.CreatedAt = l.now()
	if err := l.Store.AppendAmendment(ctx, rec); err != nil {
		return AmendmentEvent{}, err
	}
	return amendment, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Ledger) newID() string {
	if l.NewID == nil {
		return uuid.NewString()
	}
	return l.NewID()
}

func parseField(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &ValidationError{Field: field, Message: "required"}
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: "invalid date"}
	}
	return t, nil
}

func checkCost(field string, v *decimal.Decimal) []error {
	switch {
	case v == nil:
		return []error{&ValidationError{Field: field, Message: "required"}}
	case v.IsNegative():
		return []error{&ValidationError{Field: field, Message: "must be greater than or equal to 0"}}
	}
	return nil
}

var one = decimal.NewFromInt(1)

func checkRate(field string, v *decimal.Decimal) []error {
	switch {
	case v == nil:
		return []error{&ValidationError{Field: field, Message: "required"}}
	case v.IsNegative():
		return []error{&ValidationError{Field: field, Message: "must be greater than or equal to 0"}}
	case v.GreaterThan(one):
		return []error{&ValidationError{Field: field, Message: "must be less than or equal to 1"}}
	}
	return nil
}
