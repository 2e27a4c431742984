/*
Package sqlite provides a SQLite-backed implementation of tax.Store.

PURPOSE:
  Persists the two append-only logs (transactions and amendments) in
  SQLite. The same schema is used for PostgreSQL in store/postgres, with
  only dialect differences.

INTERFACES IMPLEMENTED:
  tax.Store:             Append and read both logs
  tax.TransactionSource: FindTransactionsUpTo
  tax.AmendmentSource:   FindAmendmentsUpTo

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on either log
  - No DELETE statements except Reset (demo scenarios only)
  - Corrections go through the amendments table

KEY TABLES:
  transactions:     SALES and TAX_PAYMENT rows. Sale lines live in items_json.
  amendments:       One row per corrected line
  idempotency_keys: Keys claimed by either log. A key can be used once.

DATES:
  Dates are stored as TEXT in tax.DateLayout (UTC, fixed width), so SQL
  string comparison is chronological. "date <= ?" is the whole time filter.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In-memory databases are pinned to a
  single connection so every query sees the same database.

USAGE:
  store, err := sqlite.New("./data/tax.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := &tax.PositionEngine{Transactions: store, Amendments: store}

SEE ALSO:
  - tax/store.go:        Interface definitions
  - tax/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/tax-engine/tax"
)

// Store implements tax.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &tax.RepositoryError{Op: "ping", Err: err}
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		date TEXT NOT NULL,
		invoice_id TEXT,
		items_json TEXT,
		amount TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Hot path: every resolution reads "date <= ?"
	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date, created_at);

	-- Amendments (append-only)
	CREATE TABLE IF NOT EXISTS amendments (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		invoice_id TEXT,
		item_id TEXT,
		cost TEXT,
		tax_rate TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_amendments_date
		ON amendments(date, created_at);
	CREATE INDEX IF NOT EXISTS idx_amendments_item
		ON amendments(invoice_id, item_id);

	-- Idempotency keys shared by both logs
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// TRANSACTIONS (tax.TransactionSource)
// =============================================================================

// AppendTransaction adds a transaction to the log. Append-only.
func (s *Store) AppendTransaction(ctx context.Context, rec tax.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsJSON, err := encodeItems(rec.Items)
	if err != nil {
		return &tax.RepositoryError{Op: "append transaction", Err: err}
	}

	return s.withTx(ctx, "append transaction", func(tx *sql.Tx) error {
		if err := claimKey(ctx, tx, rec.IdempotencyKey, rec.CreatedAt); err != nil {
			return err
		}

		query := `
			INSERT INTO transactions
			(id, event_type, date, invoice_id, items_json, amount, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			recordID(rec.ID),
			string(rec.EventType),
			tax.FormatDate(rec.Date),
			nullString(rec.InvoiceID),
			itemsJSON,
			nullDecimal(rec.Amount),
			nullString(rec.IdempotencyKey),
			formatCreatedAt(rec.CreatedAt),
		)
		return err
	})
}

// FindTransactionsUpTo returns every transaction dated on or before at,
// ordered by date then creation.
func (s *Store) FindTransactionsUpTo(ctx context.Context, at time.Time) ([]tax.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, event_type, date, invoice_id, items_json, amount, idempotency_key, created_at
		FROM transactions
		WHERE date <= ?
		ORDER BY date ASC, created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tax.FormatDate(at))
	if err != nil {
		return nil, &tax.RepositoryError{Op: "find transactions", Err: err}
	}
	defer rows.Close()

	var records []tax.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, &tax.RepositoryError{Op: "find transactions", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &tax.RepositoryError{Op: "find transactions", Err: err}
	}
	return records, nil
}

func scanTransaction(rows *sql.Rows) (tax.TransactionRecord, error) {
	var (
		rec            tax.TransactionRecord
		eventType      string
		date           string
		invoiceID      sql.NullString
		itemsJSON      sql.NullString
		amount         sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(&rec.ID, &eventType, &date, &invoiceID, &itemsJSON, &amount, &idempotencyKey, &createdAt)
	if err != nil {
		return rec, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if rec.CreatedAt, err = time.Parse(tax.DateLayout, createdAt); err != nil {
		return rec, fmt.Errorf("transaction %s: bad created_at %q: %w", rec.ID, createdAt, err)
	}

	// Unreadable event fields are left missing; the engine skips the event.
	rec.EventType = tax.EventType(eventType)
	rec.Date = readDate(date)
	rec.InvoiceID = invoiceID.String
	rec.Items = decodeItems(itemsJSON)
	rec.Amount = readDecimal(amount)
	rec.IdempotencyKey = idempotencyKey.String

	return rec, nil
}

// =============================================================================
// AMENDMENTS (tax.AmendmentSource)
// =============================================================================

// AppendAmendment adds an amendment to the log. Append-only.
func (s *Store) AppendAmendment(ctx context.Context, rec tax.AmendmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "append amendment", func(tx *sql.Tx) error {
		if err := claimKey(ctx, tx, rec.IdempotencyKey, rec.CreatedAt); err != nil {
			return err
		}

		query := `
			INSERT INTO amendments
			(id, date, invoice_id, item_id, cost, tax_rate, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			recordID(rec.ID),
			tax.FormatDate(rec.Date),
			nullString(rec.InvoiceID),
			nullString(rec.ItemID),
			nullDecimal(rec.Cost),
			nullDecimal(rec.TaxRate),
			nullString(rec.IdempotencyKey),
			formatCreatedAt(rec.CreatedAt),
		)
		return err
	})
}

// FindAmendmentsUpTo returns every amendment dated on or before at,
// ordered by date then creation.
func (s *Store) FindAmendmentsUpTo(ctx context.Context, at time.Time) ([]tax.AmendmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, date, invoice_id, item_id, cost, tax_rate, idempotency_key, created_at
		FROM amendments
		WHERE date <= ?
		ORDER BY date ASC, created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tax.FormatDate(at))
	if err != nil {
		return nil, &tax.RepositoryError{Op: "find amendments", Err: err}
	}
	defer rows.Close()

	var records []tax.AmendmentRecord
	for rows.Next() {
		rec, err := scanAmendment(rows)
		if err != nil {
			return nil, &tax.RepositoryError{Op: "find amendments", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &tax.RepositoryError{Op: "find amendments", Err: err}
	}
	return records, nil
}

func scanAmendment(rows *sql.Rows) (tax.AmendmentRecord, error) {
	var (
		rec            tax.AmendmentRecord
		date           string
		invoiceID      sql.NullString
		itemID         sql.NullString
		cost           sql.NullString
		taxRate        sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(&rec.ID, &date, &invoiceID, &itemID, &cost, &taxRate, &idempotencyKey, &createdAt)
	if err != nil {
		return rec, fmt.Errorf("failed to scan amendment: %w", err)
	}

	if rec.CreatedAt, err = time.Parse(tax.DateLayout, createdAt); err != nil {
		return rec, fmt.Errorf("amendment %s: bad created_at %q: %w", rec.ID, createdAt, err)
	}

	rec.Date = readDate(date)
	rec.InvoiceID = invoiceID.String
	rec.ItemID = itemID.String
	rec.Cost = readDecimal(cost)
	rec.TaxRate = readDecimal(taxRate)
	rec.IdempotencyKey = idempotencyKey.String

	return rec, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "amendments", "idempotency_keys"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &tax.RepositoryError{Op: "reset", Err: err}
		}
	}
	return nil
}

// withTx runs fn in a database transaction. Duplicate idempotency keys come
// back as tax.ErrDuplicateIdempotencyKey, anything else as a RepositoryError.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &tax.RepositoryError{Op: op, Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		if errors.Is(err, tax.ErrDuplicateIdempotencyKey) {
			return err
		}
		return &tax.RepositoryError{Op: op, Err: err}
	}
	if err := sqlTx.Commit(); err != nil {
		return &tax.RepositoryError{Op: op, Err: err}
	}
	return nil
}

// claimKey reserves an idempotency key for both logs.
func claimKey(ctx context.Context, db execer, key string, createdAt time.Time) error {
	if key == "" {
		return nil
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO idempotency_keys (key, created_at) VALUES (?, ?)",
		key, formatCreatedAt(createdAt))
	if isUniqueConstraintError(err) {
		return tax.ErrDuplicateIdempotencyKey
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func recordID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func formatCreatedAt(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return tax.FormatDate(t)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// readDate returns the zero time, which the engine treats as a missing
// date, when s is not in tax.DateLayout.
func readDate(s string) time.Time {
	t, err := time.Parse(tax.DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// readDecimal returns nil for NULL and for text that is not a decimal. The
// engine skips events with missing values instead of failing the read.
func readDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

// encodeItems keeps nil (missing) distinct from an empty list.
func encodeItems(items []tax.ItemRecord) (sql.NullString, error) {
	if items == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeItems returns nil (missing) for NULL and for unreadable JSON.
func decodeItems(s sql.NullString) []tax.ItemRecord {
	if !s.Valid {
		return nil
	}
	items := []tax.ItemRecord{}
	if err := json.Unmarshal([]byte(s.String), &items); err != nil {
		return nil
	}
	return items
}
