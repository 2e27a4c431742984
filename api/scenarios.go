/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with the worked
	examples of the tax engine. Each scenario is written through the ledger,
	exactly like client traffic, and documents the query date and the
	position it should produce.

AVAILABLE SCENARIOS:

	fully-paid:           Sale taxed 200, payment 200            -> 0
	amended-after-sale:   Amendment after the sale                -> 240
	backdated-amendment:  Amendment dated before the sale wins    -> 120
	payment-only:         A payment and nothing else              -> -200
	two-items-one-amended: One line amended, one untouched        -> 700
	future-amendment:     Amendment after the query date ignored  -> 200

HOW SCENARIOS WORK:
 1. Reset the store (clear both logs and idempotency keys)
 2. Record sales, payments and amendments through tax.Ledger
 3. Query GET /api/tax-position?date=<queryDate>

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "backdated-amendment"}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with ID, name, description, query date
 2. Write its load function against the ledger

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go:  Router-facing handlers
  - tax/ledger.go: Write path used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/tax-engine/tax"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, l *tax.Ledger) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fully-paid",
			Name:        "Fully Paid",
			Description: "One sale taxed at 20% and a payment covering it",
			QueryDate:   "2024-02-22T17:29:39Z",
			Expected:    "0",
		},
		load: func(ctx context.Context, l *tax.Ledger) error {
			if err := sale(ctx, l, "2024-02-22T10:00:00Z", "123", line("item1", "1000", "0.2")); err != nil {
				return err
			}
			return payment(ctx, l, "2024-02-22T11:00:00Z", "200")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "amended-after-sale",
			Name:        "Amended After Sale",
			Description: "The sale line is corrected an hour later",
			QueryDate:   "2024-02-22T12:00:00Z",
			Expected:    "240",
		},
		load: func(ctx context.Context, l *tax.Ledger) error {
			if err := sale(ctx, l, "2024-02-22T10:00:00Z", "123", line("item1", "1000", "0.2")); err != nil {
				return err
			}
			return amend(ctx, l, "2024-02-22T11:00:00Z", "123", "item1", "1200", "0.2")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "backdated-amendment",
			Name:        "Backdated Amendment",
			Description: "An amendment dated before the sale still overrides it",
			QueryDate:   "2024-02-22T11:00:00Z",
			Expected:    "120",
		},
		load: func(ctx context.Context, l *tax.Ledger) error {
			if err := sale(ctx, l, "2024-02-22T10:00:00Z", "123", line("item1", "1000", "0.2")); err != nil {
				return err
			}
			return amend(ctx, l, "2024-02-22T09:00:00Z", "123", "item1", "800", "0.15")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "payment-only",
			Name:        "Payment Only",
			Description: "A tax payment with no sales gives a negative position",
			QueryDate:   "2024-02-22T12:00:00Z",
			Expected:    "-200",
		},
		load: func(ctx context.Context, l *tax.Ledger) error {
			return payment(ctx, l, "2024-02-22T11:00:00Z", "200")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "two-items-one-amended",
			Name:        "Two Items, One Amended",
			Description: "Only the amended line takes the new values",
			QueryDate:   "2024-02-22T12:00:00Z",
			Expected:    "700",
		},
		load: func(ctx context.Context, l *tax.Ledger) error {
			if err := sale(ctx, l, "2024-02-22T10:00:00Z", "123",
				line("item1", "1000", "0.2"),
				line("item2", "2000", "0.2"),
			); err != nil {
				return err
			}
			return amend(ctx, l, "2024-02-22T11:00:00Z", "123", "item1", "1500", "0.2")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "future-amendment",
			Name:        "Future Amendment",
			Description: "An amendment dated after the query date is not applied",
			QueryDate:   "2024-02-22T12:00:00Z",
			Expected:    "200",
		},
		load: func(ctx context.Context, l *tax.Ledger) error {
			if err := sale(ctx, l, "2024-02-22T10:00:00Z", "123", line("item1", "1000", "0.2")); err != nil {
				return err
			}
			return amend(ctx, l, "2024-02-23T10:00:00Z", "123", "item1", "5000", "0.5")
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		list[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.Validator.Decode(schemaScenario, r.Body, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := s.load(ctx, h.Ledger); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = s.ID

	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", s.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "loaded",
		"scenario":         s.ID,
		"queryDate":        s.QueryDate,
		"expectedPosition": s.Expected,
	})
}

// ResetDatabase clears every stored event.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LOADER HELPERS
// =============================================================================

func line(itemID, cost, rate string) tax.LineInput {
	return tax.LineInput{ItemID: itemID, Cost: tax.DecFromString(cost), TaxRate: tax.DecFromString(rate)}
}

func sale(ctx context.Context, l *tax.Ledger, date, invoiceID string, items ...tax.LineInput) error {
	_, err := l.RecordSale(ctx, tax.SaleInput{Date: date, InvoiceID: invoiceID, Items: items})
	return err
}

func payment(ctx context.Context, l *tax.Ledger, date, amount string) error {
	_, err := l.RecordPayment(ctx, tax.PaymentInput{Date: date, Amount: tax.DecFromString(amount)})
	return err
}

func amend(ctx context.Context, l *tax.Ledger, date, invoiceID, itemID, cost, rate string) error {
	_, err := l.Amend(ctx, tax.AmendmentInput{
		Date:      date,
		InvoiceID: invoiceID,
		ItemID:    itemID,
		Cost:      tax.DecFromString(cost),
		TaxRate:   tax.DecFromString(rate),
	})
	return err
}
