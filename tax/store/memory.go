// Package store provides in-memory tax.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/tax-engine/tax"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions []tax.TransactionRecord
	amendments   []tax.AmendmentRecord
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{idempotency: make(map[string]bool)}
}

// AppendTransaction adds a transaction, keeping the log sorted by date.
// Append-only.
func (m *Memory) AppendTransaction(_ context.Context, rec tax.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.claimKeyLocked(rec.IdempotencyKey); err != nil {
		return err
	}

	// Binary search for insertion point; equal dates keep arrival order.
	i := sort.Search(len(m.transactions), func(i int) bool {
		return m.transactions[i].Date.After(rec.Date)
	})
	m.transactions = append(m.transactions, tax.TransactionRecord{})
	copy(m.transactions[i+1:], m.transactions[i:])
	m.transactions[i] = rec
	return nil
}

// AppendAmendment adds an amendment, keeping the log sorted by date.
func (m *Memory) AppendAmendment(_ context.Context, rec tax.AmendmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.claimKeyLocked(rec.IdempotencyKey); err != nil {
		return err
	}

	i := sort.Search(len(m.amendments), func(i int) bool {
		return m.amendments[i].Date.After(rec.Date)
	})
	m.amendments = append(m.amendments, tax.AmendmentRecord{})
	copy(m.amendments[i+1:], m.amendments[i:])
	m.amendments[i] = rec
	return nil
}

func (m *Memory) claimKeyLocked(key string) error {
	if key == "" {
		return nil
	}
	if m.idempotency[key] {
		return tax.ErrDuplicateIdempotencyKey
	}
	m.idempotency[key] = true
	return nil
}

func (m *Memory) FindTransactionsUpTo(_ context.Context, at time.Time) ([]tax.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := sort.Search(len(m.transactions), func(i int) bool {
		return m.transactions[i].Date.After(at)
	})
	result := make([]tax.TransactionRecord, n)
	copy(result, m.transactions[:n])
	return result, nil
}

func (m *Memory) FindAmendmentsUpTo(_ context.Context, at time.Time) ([]tax.AmendmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := sort.Search(len(m.amendments), func(i int) bool {
		return m.amendments[i].Date.After(at)
	})
	result := make([]tax.AmendmentRecord, n)
	copy(result, m.amendments[:n])
	return result, nil
}

// Ping always succeeds.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Close is a no-op; it lets Memory stand in for the SQL stores.
func (m *Memory) Close() error { return nil }

// Reset drops every stored event. Used by demo scenarios only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transactions = nil
	m.amendments = nil
	m.idempotency = make(map[string]bool)
	return nil
}
