/*
store.go - Ports between the tax engine and persistence

PURPOSE:
  The resolution engine only ever reads. It needs two things from storage:
  "every transaction dated on or before D" and "every amendment dated on or
  before D". Those are the two source interfaces. The write side (Store) is
  used by ingestion only.

APPEND-ONLY CONTRACT:
  There is no Update and no Delete. Events are corrected by amendments, never
  edited in place.

ORDERING:
  Implementations return rows ordered by (date, created_at). The engine does
  not rely on it; it sorts and filters internally.

ERRORS:
  Implementations wrap driver failures in *RepositoryError. The engine
  returns them to its caller unmodified.

IMPLEMENTATIONS:
  - tax/store/memory.go:  In-memory, for tests and demos
  - store/sqlite:         SQLite (mattn/go-sqlite3)
  - store/postgres:       PostgreSQL (lib/pq)
*/
package tax

import (
	"context"
	"time"
)

// TransactionSource returns SALES and TAX_PAYMENT records.
type TransactionSource interface {
	// FindTransactionsUpTo returns all and only records with Date <= at.
	FindTransactionsUpTo(ctx context.Context, at time.Time) ([]TransactionRecord, error)
}

// AmendmentSource returns amendment records.
type AmendmentSource interface {
	// FindAmendmentsUpTo returns all and only records with Date <= at.
	FindAmendmentsUpTo(ctx context.Context, at time.Time) ([]AmendmentRecord, error)
}

// Store is the full persistence interface. APPEND-ONLY.
type Store interface {
	TransactionSource
	AmendmentSource

	// AppendTransaction persists a transaction. Returns
	// ErrDuplicateIdempotencyKey if the key is already stored.
	AppendTransaction(ctx context.Context, rec TransactionRecord) error

	// AppendAmendment persists an amendment. Same idempotency rule.
	AppendAmendment(ctx context.Context, rec AmendmentRecord) error
}
