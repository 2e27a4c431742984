// Package storetest provides tax.Store doubles for tests.
package storetest

import (
	"context"
	"time"

	"github.com/warp/tax-engine/tax"
)

// Failing wraps a Store and fails the selected reads with Err.
type Failing struct {
	tax.Store
	Err              error
	FailTransactions bool
	FailAmendments   bool
}

func (f *Failing) FindTransactionsUpTo(ctx context.Context, at time.Time) ([]tax.TransactionRecord, error) {
	if f.FailTransactions {
		return nil, f.Err
	}
	return f.Store.FindTransactionsUpTo(ctx, at)
}

func (f *Failing) FindAmendmentsUpTo(ctx context.Context, at time.Time) ([]tax.AmendmentRecord, error) {
	if f.FailAmendments {
		return nil, f.Err
	}
	return f.Store.FindAmendmentsUpTo(ctx, at)
}
