package tax

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENTS - Closed variant: SaleEvent | AmendmentEvent | TaxPaymentEvent
// =============================================================================

// Event is a validated, immutable ledger event. The set of implementations is
// closed: the unexported marker keeps other packages from adding kinds, and
// every switch over events panics on an unknown one.
type Event interface {
	EventDate() time.Time
	event()
}

// SaleEvent establishes the baseline cost and tax rate of its lines.
type SaleEvent struct {
	ID        string
	Date      time.Time
	InvoiceID string
	Items     []LineItem
}

// LineItem is one billable line of a sale.
type LineItem struct {
	ItemID  string
	Cost    decimal.Decimal
	TaxRate decimal.Decimal
}

// AmendmentEvent corrects the cost and tax rate of one line.
type AmendmentEvent struct {
	ID      string
	Date    time.Time
	Key     ItemKey
	Cost    decimal.Decimal
	TaxRate decimal.Decimal
}

// TaxPaymentEvent records tax paid.
type TaxPaymentEvent struct {
	ID     string
	Date   time.Time
	Amount decimal.Decimal
}

func (e SaleEvent) EventDate() time.Time       { return e.Date }
func (e AmendmentEvent) EventDate() time.Time  { return e.Date }
func (e TaxPaymentEvent) EventDate() time.Time { return e.Date }

func (SaleEvent) event()       {}
func (AmendmentEvent) event()  {}
func (TaxPaymentEvent) event() {}

// =============================================================================
// RECORD CONVERSION
// =============================================================================

// Event converts a stored transaction into a SaleEvent or TaxPaymentEvent.
//
// A sale line missing its item ID, cost or rate is dropped on its own; each
// dropped line is reported in skipped. The sale itself is malformed only when
// the date, the invoice ID or the items list is missing. A zero Date is
// missing.
func (r TransactionRecord) Event() (ev Event, skipped []*MalformedEventError, err error) {
	switch r.EventType {
	case EventSales:
		if r.Date.IsZero() {
			return nil, nil, &MalformedEventError{Kind: string(EventSales), ID: r.ID, Field: "date"}
		}
		if r.InvoiceID == "" {
			return nil, nil, &MalformedEventError{Kind: string(EventSales), ID: r.ID, Field: "invoiceId"}
		}
		if r.Items == nil {
			return nil, nil, &MalformedEventError{Kind: string(EventSales), ID: r.ID, Field: "items"}
		}
		sale := SaleEvent{ID: r.ID, Date: r.Date, InvoiceID: r.InvoiceID}
		for _, it := range r.Items {
			line, lerr := it.lineItem(r.ID)
			if lerr != nil {
				skipped = append(skipped, lerr)
				continue
			}
			sale.Items = append(sale.Items, line)
		}
		return sale, skipped, nil

	case EventTaxPayment:
		if r.Date.IsZero() {
			return nil, nil, &MalformedEventError{Kind: string(EventTaxPayment), ID: r.ID, Field: "date"}
		}
		if r.Amount == nil {
			return nil, nil, &MalformedEventError{Kind: string(EventTaxPayment), ID: r.ID, Field: "amount"}
		}
		return TaxPaymentEvent{ID: r.ID, Date: r.Date, Amount: *r.Amount}, nil, nil

	default:
		return nil, nil, &MalformedEventError{Kind: string(r.EventType), ID: r.ID, Field: "eventType"}
	}
}

func (it ItemRecord) lineItem(saleID string) (LineItem, *MalformedEventError) {
	switch {
	case it.ItemID == "":
		return LineItem{}, &MalformedEventError{Kind: "ITEM", ID: saleID, Field: "itemId"}
	case it.Cost == nil:
		return LineItem{}, &MalformedEventError{Kind: "ITEM", ID: saleID + "/" + it.ItemID, Field: "cost"}
	case it.TaxRate == nil:
		return LineItem{}, &MalformedEventError{Kind: "ITEM", ID: saleID + "/" + it.ItemID, Field: "taxRate"}
	}
	return LineItem{ItemID: it.ItemID, Cost: *it.Cost, TaxRate: *it.TaxRate}, nil
}

// Event converts a stored amendment. The date and all four values are
// required.
func (r AmendmentRecord) Event() (AmendmentEvent, error) {
	var missing string
	switch {
	case r.Date.IsZero():
		missing = "date"
	case r.InvoiceID == "":
		missing = "invoiceId"
	case r.ItemID == "":
		missing = "itemId"
	case r.Cost == nil:
		missing = "cost"
	case r.TaxRate == nil:
		missing = "taxRate"
	}
	if missing != "" {
		return AmendmentEvent{}, &MalformedEventError{Kind: "AMENDMENT", ID: r.ID, Field: missing}
	}
	return AmendmentEvent{
		ID:      r.ID,
		Date:    r.Date,
		Key:     r.Key(),
		Cost:    *r.Cost,
		TaxRate: *r.TaxRate,
	}, nil
}

// =============================================================================
// RECORD CONSTRUCTION - Events back into storable records
// =============================================================================

// Record converts a sale into its stored form.
func (e SaleEvent) Record() TransactionRecord {
	items := make([]ItemRecord, len(e.Items))
	for i, it := range e.Items {
		items[i] = ItemRecord{ItemID: it.ItemID, Cost: Dec(it.Cost), TaxRate: Dec(it.TaxRate)}
	}
	return TransactionRecord{ID: e.ID, EventType: EventSales, Date: e.Date, InvoiceID: e.InvoiceID, Items: items}
}

// Record converts a payment into its stored form.
func (e TaxPaymentEvent) Record() TransactionRecord {
	return TransactionRecord{ID: e.ID, EventType: EventTaxPayment, Date: e.Date, Amount: Dec(e.Amount)}
}

// Record converts an amendment into its stored form.
func (e AmendmentEvent) Record() AmendmentRecord {
	return AmendmentRecord{
		ID:        e.ID,
		Date:      e.Date,
		InvoiceID: e.Key.InvoiceID,
		ItemID:    e.Key.ItemID,
		Cost:      Dec(e.Cost),
		TaxRate:   Dec(e.TaxRate),
	}
}
