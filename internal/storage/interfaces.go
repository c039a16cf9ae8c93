// Package storage declares the persistence contracts of the loyalty layer.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrBalanceConflict is returned by ApplyEntry when the stored balance no
	// longer equals the expected balance. Nothing was written.
	ErrBalanceConflict = errors.New("storage: balance changed concurrently")
	// ErrDuplicate is returned when a record with the same key already exists.
	ErrDuplicate = errors.New("storage: duplicate record")
)

// SettingsStore persists the singleton loyalty settings.
//
//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks github.com/R3E-Network/loyalty_layer/internal/storage SettingsStore
type SettingsStore interface {
	// GetSettings returns ErrNotFound when no settings have been stored.
	GetSettings(ctx context.Context) (loyalty.Settings, error)
	// EnsureSettings stores defaults if no settings exist and returns the
	// stored record either way.
	EnsureSettings(ctx context.Context, defaults loyalty.Settings) (loyalty.Settings, error)
	SaveSettings(ctx context.Context, settings loyalty.Settings) (loyalty.Settings, error)
}

// CustomerStore reads customer records. Balances are only changed through
// LedgerStore.ApplyEntry.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, customer loyalty.Customer) (loyalty.Customer, error)
	GetCustomer(ctx context.Context, id string) (loyalty.Customer, error)
	// ListInactiveCustomers returns customers holding a positive balance whose
	// most recent ledger entry is older than before. Customers without any
	// ledger entry are not returned.
	ListInactiveCustomers(ctx context.Context, before time.Time) ([]loyalty.Customer, error)
}

// LedgerStore persists the append-only points ledger.
type LedgerStore interface {
	// ApplyEntry atomically moves the customer's balance from expectedBalance
	// to entry.PointsBalance and appends entry. It returns ErrNotFound for an
	// unknown customer and ErrBalanceConflict when the balance moved. The
	// returned entry carries its assigned Sequence.
	ApplyEntry(ctx context.Context, expectedBalance int64, entry loyalty.Transaction) (loyalty.Transaction, loyalty.Customer, error)
	// ListTransactions returns matching entries newest first.
	ListTransactions(ctx context.Context, filter loyalty.TransactionFilter) ([]loyalty.Transaction, error)
	// CountTransactions counts entries matching the same predicate as
	// ListTransactions, ignoring Limit and Skip.
	CountTransactions(ctx context.Context, filter loyalty.TransactionFilter) (int, error)
	// ReplayTransactions calls fn for every entry of the customer in commit
	// order. Iteration stops at the first error fn returns.
	ReplayTransactions(ctx context.Context, customerID string, fn func(loyalty.Transaction) error) error
}

// CustomerLedger is the part of Store used by balance mutations and history
// queries.
type CustomerLedger interface {
	CustomerStore
	LedgerStore
}

// Store bundles every store the loyalty services need.
type Store interface {
	SettingsStore
	CustomerStore
	LedgerStore
	Close() error
}
