// Package loyalty implements the loyalty-points services: settings, the
// accrual engine, balance mutations against the append-only ledger, history
// queries, ledger audit and scheduled expiry.
package loyalty

import (
	"context"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/errors"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

const (
	// DefaultStorageTimeout bounds each operation's storage round trips.
	DefaultStorageTimeout = 5 * time.Second
	// DefaultConflictRetries is how often a balance conflict is retried from
	// a fresh read.
	DefaultConflictRetries = 3
	// DefaultPageLimit and MaxPageLimit bound history page sizes.
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Options tunes a Service. Zero values use the defaults above.
type Options struct {
	StorageTimeout  time.Duration
	ConflictRetries int
	Logger          *logging.Logger
	Now             func() time.Time
}

// Service applies balance mutations and answers history queries. Mutations
// for one customer are serialized; different customers never contend.
type Service struct {
	store    storage.CustomerLedger
	settings *SettingsService
	locks    *keyedLocker
	log      *logging.Logger
	timeout  time.Duration
	retries  int
	now      func() time.Time
}

// NewService creates the ledger service.
func NewService(store storage.CustomerLedger, settings *SettingsService, opts Options) *Service {
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = DefaultStorageTimeout
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = DefaultConflictRetries
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefault("loyalty")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		settings: settings,
		locks:    newKeyedLocker(),
		log:      opts.Logger,
		timeout:  opts.StorageTimeout,
		retries:  opts.ConflictRetries,
		now:      opts.Now,
	}
}

// Settings returns the settings service the ledger reads from.
func (s *Service) Settings() *SettingsService {
	return s.settings
}

// storageError classifies a store failure. Deadline expiry is reported as a
// timeout; everything else as a storage failure.
func storageError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Timeout(op, err)
	}
	return errors.Storage(op, err)
}
