/*
Package tax computes tax positions by replaying two append-only event logs.

PURPOSE:
  A tax position is the tax owed on sales minus the tax payments made, as of
  an arbitrary instant. Nothing is stored as a running total: the position is
  always derived by replaying every sale, payment and amendment dated on or
  before the query instant.

KEY CONCEPTS IN THIS FILE (types.go):
  - TransactionRecord: A stored SALES or TAX_PAYMENT row (may be incomplete)
  - AmendmentRecord:   A stored correction of one invoice line
  - ItemKey:           (invoice, item) pair identifying one billable line
  - EventType:         The closed set of transaction kinds

RECORDS vs EVENTS:
  Records are what the stores hand back. Optional fields are pointers or
  empty strings so that "missing" is distinguishable from zero. Records are
  converted into events (events.go) before resolution; records that cannot
  be converted are skipped, never fatal.

PRECISION:
  Costs, rates and amounts are decimal.Decimal. Tax is computed exactly,
  without rounding, so totals never drift across many items.

SEE ALSO:
  - events.go:   Closed event variant and record conversion
  - position.go: Resolution engine
  - store.go:    Ports implemented by the storage layer
*/
package tax

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType is the kind of a transaction record.
type EventType string

const (
	EventSales      EventType = "SALES"
	EventTaxPayment EventType = "TAX_PAYMENT"
)

// Valid reports whether t is one of the known transaction kinds.
func (t EventType) Valid() bool {
	return t == EventSales || t == EventTaxPayment
}

// =============================================================================
// RECORDS - Rows as returned by the stores
// =============================================================================

// TransactionRecord is a stored SALES or TAX_PAYMENT event.
type TransactionRecord struct {
	ID        string
	EventType EventType
	Date      time.Time

	// SALES only. Empty InvoiceID or nil Items means the field is missing.
	InvoiceID string
	Items     []ItemRecord

	// TAX_PAYMENT only. Nil means missing.
	Amount *decimal.Decimal

	IdempotencyKey string
	CreatedAt      time.Time
}

// ItemRecord is one line of a stored sale. SQL stores keep the lines of a
// sale as a JSON array of these.
type ItemRecord struct {
	ItemID  string           `json:"itemId,omitempty"`
	Cost    *decimal.Decimal `json:"cost,omitempty"`
	TaxRate *decimal.Decimal `json:"taxRate,omitempty"`
}

// AmendmentRecord is a stored correction of one sale line.
type AmendmentRecord struct {
	ID        string
	Date      time.Time
	InvoiceID string
	ItemID    string
	Cost      *decimal.Decimal
	TaxRate   *decimal.Decimal

	IdempotencyKey string
	CreatedAt      time.Time
}

// Key returns the item key the amendment targets.
func (r AmendmentRecord) Key() ItemKey {
	return ItemKey{InvoiceID: r.InvoiceID, ItemID: r.ItemID}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ItemKey identifies one billable line item across its lifetime.
type ItemKey struct {
	InvoiceID string
	ItemID    string
}

func (k ItemKey) String() string { return k.InvoiceID + "/" + k.ItemID }

// Less orders keys by invoice, then item.
func (k ItemKey) Less(other ItemKey) bool {
	if k.InvoiceID != other.InvoiceID {
		return k.InvoiceID < other.InvoiceID
	}
	return k.ItemID < other.ItemID
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// Dec returns a pointer to d. Records use pointers for optional values.
func Dec(d decimal.Decimal) *decimal.Decimal { return &d }

// DecFromString parses s into an optional decimal. It panics on malformed
// input and is meant for literals in fixtures and scenarios.
func DecFromString(s string) *decimal.Decimal {
	return Dec(decimal.RequireFromString(s))
}
