package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu        sync.RWMutex
	nextSeq   int64
	settings  *loyalty.Settings
	customers map[string]loyalty.Customer
	ledger    map[string][]loyalty.Transaction
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextSeq:   1,
		customers: make(map[string]loyalty.Customer),
		ledger:    make(map[string][]loyalty.Transaction),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// SettingsStore implementation ------------------------------------------------

func (s *Store) GetSettings(ctx context.Context) (loyalty.Settings, error) {
	if err := ctx.Err(); err != nil {
		return loyalty.Settings{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return loyalty.Settings{}, storage.ErrNotFound
	}
	return s.settings.Clone(), nil
}

func (s *Store) EnsureSettings(ctx context.Context, defaults loyalty.Settings) (loyalty.Settings, error) {
	if err := ctx.Err(); err != nil {
		return loyalty.Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		stored := defaults.Clone()
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = time.Now().UTC()
		}
		s.settings = &stored
	}
	return s.settings.Clone(), nil
}

func (s *Store) SaveSettings(ctx context.Context, settings loyalty.Settings) (loyalty.Settings, error) {
	if err := ctx.Err(); err != nil {
		return loyalty.Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := settings.Clone()
	s.settings = &stored
	return stored.Clone(), nil
}

// CustomerStore implementation ------------------------------------------------

func (s *Store) CreateCustomer(ctx context.Context, customer loyalty.Customer) (loyalty.Customer, error) {
	if err := ctx.Err(); err != nil {
		return loyalty.Customer{}, err
	}
	if customer.ID == "" {
		return loyalty.Customer{}, fmt.Errorf("customer id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.customers[customer.ID]; exists {
		return loyalty.Customer{}, storage.ErrDuplicate
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = customer.CreatedAt
	s.customers[customer.ID] = customer
	return customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (loyalty.Customer, error) {
	if err := ctx.Err(); err != nil {
		return loyalty.Customer{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return loyalty.Customer{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListInactiveCustomers(ctx context.Context, before time.Time) ([]loyalty.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []loyalty.Customer
	for id, c := range s.customers {
		if c.LoyaltyPoints <= 0 {
			continue
		}
		entries := s.ledger[id]
		if len(entries) == 0 {
			continue
		}
		if entries[len(entries)-1].Timestamp.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) ApplyEntry(ctx context.Context, expectedBalance int64, entry loyalty.Transaction) (loyalty.Transaction, loyalty.Customer, error) {
	if err := ctx.Err(); err != nil {
		return loyalty.Transaction{}, loyalty.Customer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[entry.CustomerID]
	if !ok {
		return loyalty.Transaction{}, loyalty.Customer{}, storage.ErrNotFound
	}
	if c.LoyaltyPoints != expectedBalance {
		return loyalty.Transaction{}, loyalty.Customer{}, storage.ErrBalanceConflict
	}

	entry.Sequence = s.nextSeq
	s.nextSeq++
	entry.Metadata = copyMetadata(entry.Metadata)

	c.LoyaltyPoints = entry.PointsBalance
	c.UpdatedAt = entry.Timestamp
	s.customers[c.ID] = c
	s.ledger[c.ID] = append(s.ledger[c.ID], entry)
	return entry, c, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter loyalty.TransactionFilter) ([]loyalty.Transaction, error) {
	matched, err := s.matching(ctx, filter)
	if err != nil {
		return nil, err
	}
	// Newest first.
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Sequence > matched[j].Sequence
	})

	if filter.Skip > 0 {
		if filter.Skip >= len(matched) {
			return []loyalty.Transaction{}, nil
		}
		matched = matched[filter.Skip:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *Store) CountTransactions(ctx context.Context, filter loyalty.TransactionFilter) (int, error) {
	matched, err := s.matching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) ReplayTransactions(ctx context.Context, customerID string, fn func(loyalty.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	entries := append([]loyalty.Transaction(nil), s.ledger[customerID]...)
	s.mu.RUnlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) matching(ctx context.Context, filter loyalty.TransactionFilter) ([]loyalty.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loyalty.Transaction, 0)
	for _, e := range s.ledger[filter.CustomerID] {
		if filter.Matches(e) {
			e.Metadata = copyMetadata(e.Metadata)
			out = append(out, e)
		}
	}
	return out, nil
}

func copyMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
