package tax_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tax-engine/tax"
	"github.com/warp/tax-engine/tax/store"
)

func newLedger() (*tax.Ledger, *store.Memory) {
	mem := store.NewMemory()
	l := tax.NewLedger(mem)
	l.Now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	n := 0
	l.NewID = func() string {
		n++
		return "id-" + string(rune('0'+n))
	}
	return l, mem
}

// validationFields collects the field names of every joined ValidationError.
func validationFields(t *testing.T, err error) []string {
	t.Helper()
	require.ErrorIs(t, err, tax.ErrInvalidEvent)

	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok, "expected joined errors, got %T", err)

	var fields []string
	for _, e := range joined.Unwrap() {
		var ve *tax.ValidationError
		require.True(t, errors.As(e, &ve))
		fields = append(fields, ve.Field)
	}
	return fields
}

// =============================================================================
// SALES
// =============================================================================

func TestLedger_RecordSale(t *testing.T) {
	// GIVEN: An empty ledger
	l, mem := newLedger()
	ctx := context.Background()

	// WHEN: Recording a valid two-line sale
	sale, err := l.RecordSale(ctx, tax.SaleInput{
		Date:      "2024-02-22T10:00:00Z",
		InvoiceID: "123",
		Items: []tax.LineInput{
			{ItemID: "item1", Cost: d("1000"), TaxRate: d("0.2")},
			{ItemID: "item2", Cost: d("0"), TaxRate: d("1")},
		},
	})

	// THEN: It is stored with an ID and creation time
	require.NoError(t, err)
	assert.Equal(t, "id-1", sale.ID)
	assert.Len(t, sale.Items, 2)

	stored, err := mem.FindTransactionsUpTo(ctx, at("2024-02-22T10:00:00Z"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, tax.EventSales, stored[0].EventType)
	assert.Equal(t, "123", stored[0].InvoiceID)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), stored[0].CreatedAt)
}

func TestLedger_RecordSale_ReportsEveryViolation(t *testing.T) {
	l, mem := newLedger()

	_, err := l.RecordSale(context.Background(), tax.SaleInput{
		Date: "2024-02-30",
		Items: []tax.LineInput{
			{Cost: d("-1"), TaxRate: d("1.5")},
		},
	})

	assert.ElementsMatch(t, []string{"date", "invoiceId", "items[0].itemId", "items[0].cost", "items[0].taxRate"}, validationFields(t, err))

	stored, _ := mem.FindTransactionsUpTo(context.Background(), at("2100-01-01"))
	assert.Empty(t, stored)
}

func TestLedger_RecordSale_RequiresItems(t *testing.T) {
	l, _ := newLedger()

	_, err := l.RecordSale(context.Background(), tax.SaleInput{Date: "2024-02-22", InvoiceID: "123"})

	assert.Equal(t, []string{"items"}, validationFields(t, err))
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestLedger_RecordPayment(t *testing.T) {
	l, mem := newLedger()
	ctx := context.Background()

	p, err := l.RecordPayment(ctx, tax.PaymentInput{Date: "2024-02-22T11:00:00Z", Amount: d("200")})

	require.NoError(t, err)
	assertDecimal(t, "200", p.Amount)
	stored, _ := mem.FindTransactionsUpTo(ctx, at("2024-02-23"))
	require.Len(t, stored, 1)
	assert.Equal(t, tax.EventTaxPayment, stored[0].EventType)
}

func TestLedger_RecordPayment_Validation(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	_, err := l.RecordPayment(ctx, tax.PaymentInput{Date: "", Amount: nil})
	assert.ElementsMatch(t, []string{"date", "amount"}, validationFields(t, err))

	_, err = l.RecordPayment(ctx, tax.PaymentInput{Date: "2024-02-22", Amount: d("-0.01")})
	assert.Equal(t, []string{"amount"}, validationFields(t, err))
}

// =============================================================================
// AMENDMENTS
// =============================================================================

func TestLedger_AmendWithoutSaleOriginatesItem(t *testing.T) {
	// GIVEN: No sale for invoice 999
	l, mem := newLedger()
	ctx := context.Background()

	// WHEN: Amending one of its items
	_, err := l.Amend(ctx, tax.AmendmentInput{
		Date: "2024-02-22T11:00:00Z", InvoiceID: "999", ItemID: "x", Cost: d("100"), TaxRate: d("0.1"),
	})
	require.NoError(t, err)

	// THEN: The item counts toward the position
	engine := &tax.PositionEngine{Transactions: mem, Amendments: mem}
	net, err := engine.TaxPosition(ctx, "2024-02-23")
	require.NoError(t, err)
	assertDecimal(t, "10", net)
}

func TestLedger_Amend_Validation(t *testing.T) {
	l, _ := newLedger()

	_, err := l.Amend(context.Background(), tax.AmendmentInput{Date: "nope", TaxRate: d("-0.1")})

	assert.ElementsMatch(t, []string{"date", "invoiceId", "itemId", "cost", "taxRate"}, validationFields(t, err))
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestLedger_IdempotencyKeyRejectsReplay(t *testing.T) {
	l, mem := newLedger()
	ctx := context.Background()
	in := tax.PaymentInput{Date: "2024-02-22", Amount: d("50"), IdempotencyKey: "retry-1"}

	_, err := l.RecordPayment(ctx, in)
	require.NoError(t, err)

	_, err = l.RecordPayment(ctx, in)
	assert.ErrorIs(t, err, tax.ErrDuplicateIdempotencyKey)
	assert.True(t, tax.IsConflict(err))

	stored, _ := mem.FindTransactionsUpTo(ctx, at("2024-02-23"))
	assert.Len(t, stored, 1)
}

func TestLedger_IdempotencyKeySharedAcrossLogs(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	_, err := l.RecordPayment(ctx, tax.PaymentInput{Date: "2024-02-22", Amount: d("50"), IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = l.Amend(ctx, tax.AmendmentInput{
		Date: "2024-02-22", InvoiceID: "1", ItemID: "a", Cost: d("1"), TaxRate: d("0"), IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, tax.ErrDuplicateIdempotencyKey)
}

func TestLedger_EmptyKeyNeverConflicts(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.RecordPayment(ctx, tax.PaymentInput{Date: "2024-02-22", Amount: d("1")})
		require.NoError(t, err)
	}
}
