package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tax-engine/store/sqlite"
	"github.com/warp/tax-engine/tax"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ts(s string) time.Time { return tax.MustParseDate(s) }

func TestStore_TransactionRoundTrip(t *testing.T) {
	// GIVEN: A sale with one incomplete line and a payment
	store := newStore(t)
	ctx := context.Background()

	sale := tax.TransactionRecord{
		ID:        "s1",
		EventType: tax.EventSales,
		Date:      ts("2024-02-22T10:00:00.123Z"),
		InvoiceID: "123",
		Items: []tax.ItemRecord{
			{ItemID: "item1", Cost: tax.DecFromString("1000.10"), TaxRate: tax.DecFromString("0.2")},
			{ItemID: "item2", TaxRate: tax.DecFromString("0.2")},
		},
		CreatedAt: ts("2024-03-01"),
	}
	payment := tax.TransactionRecord{
		ID:        "p1",
		EventType: tax.EventTaxPayment,
		Date:      ts("2024-02-22T11:00:00+01:00"),
		Amount:    tax.DecFromString("200.5"),
	}
	require.NoError(t, store.AppendTransaction(ctx, payment))
	require.NoError(t, store.AppendTransaction(ctx, sale))

	// WHEN: Reading them back
	got, err := store.FindTransactionsUpTo(ctx, ts("2024-02-22T10:00:00.123Z"))

	// THEN: Both are returned, date ordered, with missing fields still missing
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID) // 10:00Z
	assert.Equal(t, "s1", got[1].ID) // 10:00:00.123Z

	assert.True(t, got[0].Amount.Equal(*payment.Amount))
	assert.Nil(t, got[0].Items)
	assert.Empty(t, got[0].InvoiceID)

	assert.Equal(t, sale.Date, got[1].Date)
	assert.Equal(t, sale.CreatedAt, got[1].CreatedAt)
	assert.Nil(t, got[1].Amount)
	require.Len(t, got[1].Items, 2)
	assert.True(t, got[1].Items[0].Cost.Equal(*tax.DecFromString("1000.10")))
	assert.Nil(t, got[1].Items[1].Cost)
}

func TestStore_FindUpToExcludesLaterRecords(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{ID: "a", EventType: tax.EventTaxPayment, Date: ts("2024-01-01"), Amount: tax.DecFromString("1")}))
	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{ID: "b", EventType: tax.EventTaxPayment, Date: ts("2024-01-01T00:00:00.000000001Z"), Amount: tax.DecFromString("1")}))

	got, err := store.FindTransactionsUpTo(ctx, ts("2024-01-01"))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestStore_EmptyItemsDistinctFromMissing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{ID: "empty", EventType: tax.EventSales, Date: ts("2024-01-01"), InvoiceID: "i", Items: []tax.ItemRecord{}}))
	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{ID: "missing", EventType: tax.EventSales, Date: ts("2024-01-02"), InvoiceID: "i"}))

	got, err := store.FindTransactionsUpTo(ctx, ts("2024-02-01"))

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotNil(t, got[0].Items)
	assert.Empty(t, got[0].Items)
	assert.Nil(t, got[1].Items)
}

func TestStore_AmendmentRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rec := tax.AmendmentRecord{
		ID: "a1", Date: ts("2024-02-22T11:00:00Z"), InvoiceID: "123", ItemID: "item1",
		Cost: tax.DecFromString("1200"), TaxRate: tax.DecFromString("0.2"),
	}
	require.NoError(t, store.AppendAmendment(ctx, rec))
	require.NoError(t, store.AppendAmendment(ctx, tax.AmendmentRecord{ID: "a2", Date: ts("2024-02-23")}))

	got, err := store.FindAmendmentsUpTo(ctx, ts("2024-02-22T12:00:00Z"))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.Key(), got[0].Key())
	assert.True(t, got[0].Cost.Equal(*rec.Cost))
	assert.True(t, got[0].TaxRate.Equal(*rec.TaxRate))
}

func TestStore_IdempotencyKeyAcrossLogs(t *testing.T) {
	// GIVEN: A payment stored with key "k"
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{ID: "p1", EventType: tax.EventTaxPayment, Date: ts("2024-01-01"), Amount: tax.DecFromString("1"), IdempotencyKey: "k"}))

	// WHEN: Replaying it, or reusing the key for an amendment
	errTx := store.AppendTransaction(ctx, tax.TransactionRecord{ID: "p2", EventType: tax.EventTaxPayment, Date: ts("2024-01-01"), Amount: tax.DecFromString("1"), IdempotencyKey: "k"})
	errAm := store.AppendAmendment(ctx, tax.AmendmentRecord{ID: "a1", Date: ts("2024-01-01"), IdempotencyKey: "k"})

	// THEN: Both are rejected and nothing extra is stored
	assert.ErrorIs(t, errTx, tax.ErrDuplicateIdempotencyKey)
	assert.ErrorIs(t, errAm, tax.ErrDuplicateIdempotencyKey)

	txs, _ := store.FindTransactionsUpTo(ctx, ts("2024-02-01"))
	ams, _ := store.FindAmendmentsUpTo(ctx, ts("2024-02-01"))
	assert.Len(t, txs, 1)
	assert.Empty(t, ams)
}

func TestStore_DuplicateIDIsRepositoryError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rec := tax.TransactionRecord{ID: "same", EventType: tax.EventTaxPayment, Date: ts("2024-01-01"), Amount: tax.DecFromString("1")}
	require.NoError(t, store.AppendTransaction(ctx, rec))

	err := store.AppendTransaction(ctx, rec)

	assert.ErrorIs(t, err, tax.ErrRepository)
	assert.NotErrorIs(t, err, tax.ErrDuplicateIdempotencyKey)
}

func TestStore_ClosedDatabaseIsRepositoryError(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.FindTransactionsUpTo(context.Background(), ts("2024-01-01"))

	var repoErr *tax.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, "find transactions", repoErr.Op)
}

func TestStore_Reset(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	rec := tax.TransactionRecord{ID: "p1", EventType: tax.EventTaxPayment, Date: ts("2024-01-01"), Amount: tax.DecFromString("1"), IdempotencyKey: "k"}
	require.NoError(t, store.AppendTransaction(ctx, rec))

	require.NoError(t, store.Reset(ctx))

	got, err := store.FindTransactionsUpTo(ctx, ts("2024-02-01"))
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, store.AppendTransaction(ctx, rec))
}

func TestStore_DrivesPositionEngine(t *testing.T) {
	// GIVEN: Scenario "two items, one amended" written through the ledger
	store := newStore(t)
	ctx := context.Background()
	ledger := tax.NewLedger(store)

	_, err := ledger.RecordSale(ctx, tax.SaleInput{
		Date:      "2024-02-22T10:00:00Z",
		InvoiceID: "123",
		Items: []tax.LineInput{
			{ItemID: "item1", Cost: tax.DecFromString("1000"), TaxRate: tax.DecFromString("0.2")},
			{ItemID: "item2", Cost: tax.DecFromString("2000"), TaxRate: tax.DecFromString("0.2")},
		},
	})
	require.NoError(t, err)
	_, err = ledger.Amend(ctx, tax.AmendmentInput{
		Date: "2024-02-22T11:00:00Z", InvoiceID: "123", ItemID: "item1",
		Cost: tax.DecFromString("1500"), TaxRate: tax.DecFromString("0.2"),
	})
	require.NoError(t, err)

	// WHEN: Resolving against SQLite
	engine := &tax.PositionEngine{Transactions: store, Amendments: store}
	net, err := engine.TaxPosition(ctx, "2024-02-22T12:00:00Z")

	// THEN: 1500*0.2 + 2000*0.2
	require.NoError(t, err)
	assert.Equal(t, "700", net.String())
}

func TestStore_UnreadableValuesAreSkippedNotFatal(t *testing.T) {
	// GIVEN: Rows whose values cannot be decoded, next to a valid payment
	store := newStore(t)
	ctx := context.Background()
	created := tax.FormatDate(ts("2024-03-01"))

	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{
		ID: "p-ok", EventType: tax.EventTaxPayment, Date: ts("2024-01-05"), Amount: tax.DecFromString("5"),
	}))
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO transactions (id, event_type, date, invoice_id, items_json, amount, created_at) VALUES
		('p-bad-amount', 'TAX_PAYMENT', '2024-01-01T00:00:00.000000000Z', NULL, NULL, 'abc', ?),
		('s-bad-items', 'SALES', '2024-01-01T00:00:00.000000000Z', 'inv', '{not json', NULL, ?),
		('p-bad-date', 'TAX_PAYMENT', '2024-01-02', NULL, NULL, '7', ?)`,
		created, created, created)
	require.NoError(t, err)
	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO amendments (id, date, invoice_id, item_id, cost, tax_rate, created_at) VALUES
		('a-bad-cost', '2024-01-03T00:00:00.000000000Z', 'inv', 'item1', 'x', '0.2', ?)`,
		created)
	require.NoError(t, err)

	// WHEN: The engine resolves over them
	engine := &tax.PositionEngine{Transactions: store, Amendments: store}
	pos, err := engine.Resolve(ctx, "2024-02-01")

	// THEN: Only the valid payment counts, each unreadable row is skipped
	require.NoError(t, err)
	assert.Equal(t, "-5", pos.Net.String())

	fields := map[string]string{}
	for _, s := range pos.Skipped {
		fields[s.ID] = s.Field
	}
	assert.Equal(t, map[string]string{
		"p-bad-amount": "amount",
		"s-bad-items":  "items",
		"p-bad-date":   "date",
		"a-bad-cost":   "cost",
	}, fields)
}

func TestStore_BadCreatedAtIsRepositoryError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO amendments (id, date, invoice_id, item_id, cost, tax_rate, created_at)
		VALUES ('a1', '2024-01-03T00:00:00.000000000Z', 'inv', 'item1', '1', '0.2', 'yesterday')`)
	require.NoError(t, err)

	_, err = store.FindAmendmentsUpTo(ctx, ts("2024-02-01"))

	var repoErr *tax.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, "find amendments", repoErr.Op)
	assert.ErrorContains(t, err, "created_at")
}

func TestStore_SameDateSalesResolveInCreationOrder(t *testing.T) {
	// GIVEN: Two sales of one line on the same date, appended out of
	// creation order
	store := newStore(t)
	ctx := context.Background()
	line := func(cost string) []tax.ItemRecord {
		return []tax.ItemRecord{{ItemID: "a", Cost: tax.DecFromString(cost), TaxRate: tax.DecFromString("0.1")}}
	}

	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{
		ID: "later", EventType: tax.EventSales, Date: ts("2024-01-01"), InvoiceID: "inv",
		Items: line("300"), CreatedAt: ts("2024-03-02"),
	}))
	require.NoError(t, store.AppendTransaction(ctx, tax.TransactionRecord{
		ID: "earlier", EventType: tax.EventSales, Date: ts("2024-01-01"), InvoiceID: "inv",
		Items: line("100"), CreatedAt: ts("2024-03-01"),
	}))

	// WHEN
	engine := &tax.PositionEngine{Transactions: store, Amendments: store}
	net, err := engine.TaxPosition(ctx, "2024-02-01")

	// THEN: The later-created sale supplies the baseline
	require.NoError(t, err)
	assert.Equal(t, "30", net.String())
}
