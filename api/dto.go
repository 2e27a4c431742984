/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the tax package's model from the external API contract.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *DTO:      Response types returned to clients
  - *Response: Top-level response wrappers

NUMBERS:
  Request amounts decode straight into decimal.Decimal, so no precision is
  lost on the way in. Responses carry float64 values, which is what the
  existing clients expect.

VALIDATION:
  Shape is checked by the JSON Schemas in schemas/ before decoding. Domain
  rules (strict dates) are checked by tax.Ledger.

SEE ALSO:
  - handlers.go:   Uses these types
  - validation.go: Schema validation
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tax-engine/tax"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// TransactionRequest is a SALES or TAX_PAYMENT event.
type TransactionRequest struct {
	EventType string           `json:"eventType"`
	Date      string           `json:"date"`
	InvoiceID string           `json:"invoiceId,omitempty"`
	Items     []ItemRequest    `json:"items,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

// ItemRequest is one sale line.
type ItemRequest struct {
	ItemID  string           `json:"itemId"`
	Cost    *decimal.Decimal `json:"cost"`
	TaxRate *decimal.Decimal `json:"taxRate"`
}

// AmendmentRequest corrects one sale line.
type AmendmentRequest struct {
	Date      string           `json:"date"`
	InvoiceID string           `json:"invoiceId"`
	ItemID    string           `json:"itemId"`
	Cost      *decimal.Decimal `json:"cost"`
	TaxRate   *decimal.Decimal `json:"taxRate"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (r TransactionRequest) saleInput(key string) tax.SaleInput {
	in := tax.SaleInput{Date: r.Date, InvoiceID: r.InvoiceID, IdempotencyKey: key}
	for _, it := range r.Items {
		in.Items = append(in.Items, tax.LineInput{ItemID: it.ItemID, Cost: it.Cost, TaxRate: it.TaxRate})
	}
	return in
}

func (r TransactionRequest) paymentInput(key string) tax.PaymentInput {
	return tax.PaymentInput{Date: r.Date, Amount: r.Amount, IdempotencyKey: key}
}

func (r AmendmentRequest) amendmentInput(key string) tax.AmendmentInput {
	return tax.AmendmentInput{
		Date:           r.Date,
		InvoiceID:      r.InvoiceID,
		ItemID:         r.ItemID,
		Cost:           r.Cost,
		TaxRate:        r.TaxRate,
		IdempotencyKey: key,
	}
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TaxPositionResponse is returned by GET /api/tax-position. The breakdown
// fields are only set when detail=true.
type TaxPositionResponse struct {
	Date        string  `json:"date"`
	TaxPosition float64 `json:"taxPosition"`

	TotalTax      *float64     `json:"totalTax,omitempty"`
	TotalPayments *float64     `json:"totalPayments,omitempty"`
	Items         []ItemDTO    `json:"items,omitempty"`
	Unresolved    []string     `json:"unresolved,omitempty"`
	Skipped       []SkippedDTO `json:"skipped,omitempty"`
}

// ItemDTO is one resolved line in a detailed position.
type ItemDTO struct {
	InvoiceID   string    `json:"invoiceId"`
	ItemID      string    `json:"itemId"`
	Cost        float64   `json:"cost"`
	TaxRate     float64   `json:"taxRate"`
	Tax         float64   `json:"tax"`
	Source      string    `json:"source"`
	EffectiveAt time.Time `json:"effectiveAt"`
}

// SkippedDTO is a malformed record left out of the computation.
type SkippedDTO struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Field string `json:"missing"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	QueryDate   string `json:"queryDate"`
	Expected    string `json:"expectedPosition"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toTaxPositionResponse(date string, pos *tax.Position, detail bool) TaxPositionResponse {
	resp := TaxPositionResponse{Date: date, TaxPosition: pos.Net.InexactFloat64()}
	if !detail {
		return resp
	}

	totalTax := pos.TotalTax.InexactFloat64()
	totalPayments := pos.TotalPayments.InexactFloat64()
	resp.TotalTax = &totalTax
	resp.TotalPayments = &totalPayments
	resp.Items = make([]ItemDTO, 0, len(pos.Items))
	for _, it := range pos.Items {
		resp.Items = append(resp.Items, ItemDTO{
			InvoiceID:   it.Key.InvoiceID,
			ItemID:      it.Key.ItemID,
			Cost:        it.Cost.InexactFloat64(),
			TaxRate:     it.TaxRate.InexactFloat64(),
			Tax:         it.Tax.InexactFloat64(),
			Source:      string(it.Source),
			EffectiveAt: it.EffectiveAt,
		})
	}
	for _, k := range pos.Unresolved {
		resp.Unresolved = append(resp.Unresolved, k.String())
	}
	for _, s := range pos.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedDTO{Kind: s.Kind, ID: s.ID, Field: s.Field})
	}
	return resp
}
