package loyalty

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/metrics"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	Candidates int   `json:"candidates"`
	Expired    int   `json:"expired"`
	Failed     int   `json:"failed"`
	Points     int64 `json:"points"`
	// Skipped is set when expiry is disabled in the settings.
	Skipped bool `json:"skipped,omitempty"`
}

// Sweeper expires the balance of customers without ledger activity for the
// configured expiration period.
type Sweeper struct {
	ledger   *Service
	store    storage.CustomerStore
	schedule string
	log      *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// NewSweeper creates a sweeper that runs on schedule, a standard five-field
// cron expression or descriptor such as "@daily". Times are UTC. An empty
// schedule leaves the sweeper idle and only Sweep can be used.
func NewSweeper(ledger *Service, store storage.CustomerStore, schedule string, log *logging.Logger) (*Sweeper, error) {
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("parse expiry schedule %q: %w", schedule, err)
		}
	}
	if log == nil {
		log = logging.NewDefault("loyalty-expiry")
	}
	return &Sweeper{ledger: ledger, store: store, schedule: schedule, log: log, now: time.Now}, nil
}

// Name implements system.Service.
func (s *Sweeper) Name() string { return "loyalty-expiry" }

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.schedule == "" {
		s.log.Info("loyalty expiry schedule disabled")
		s.running = true
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() { s.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule loyalty expiry: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithContext(ctx).WithField("schedule", s.schedule).Info("loyalty expiry sweeper started")
	return nil
}

// Stop cancels any sweep in progress and waits for it until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	stopped := c.Stop()

	select {
	case <-stopped.Done():
		s.log.Info("loyalty expiry sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.Sweep(ctx, s.now()); err != nil {
		s.log.WithError(err).Error("loyalty expiry sweep failed")
	}
}

// Sweep expires the full balance of every customer whose latest ledger
// entry is older than the expiration period before now. A failure for one
// customer is logged and counted and the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	var result SweepResult

	settings, err := s.ledger.settings.GetSettings(ctx)
	if err != nil {
		return result, err
	}
	if !settings.Enabled || settings.ExpirationPeriod <= 0 {
		result.Skipped = true
		return result, nil
	}

	days := settings.ExpirationPeriod
	cutoff := now.UTC().AddDate(0, 0, -days)
	reason := fmt.Sprintf("points expired after %d days of inactivity", days)

	listCtx, cancel := context.WithTimeout(ctx, s.ledger.timeout)
	candidates, err := s.store.ListInactiveCustomers(listCtx, cutoff)
	cancel()
	if err != nil {
		return result, storageError(listCtx, "list inactive customers", err)
	}
	result.Candidates = len(candidates)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			break
		}
		tx, err := s.ledger.expireInactive(ctx, c.ID, cutoff, reason)
		if err != nil {
			if errors.Is(err, errCustomerActive) {
				continue
			}
			result.Failed++
			s.log.WithContext(ctx).WithError(err).WithField("customer_id", c.ID).Warn("expire loyalty points failed")
			continue
		}
		result.Expired++
		result.Points += -tx.Points
	}

	metrics.RecordExpirySweep(result.Expired, result.Failed, time.Since(start))
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"candidates": result.Candidates,
		"expired":    result.Expired,
		"failed":     result.Failed,
		"points":     result.Points,
	}).Info("loyalty expiry sweep finished")
	return result, ctx.Err()
}

// errCustomerActive reports that a sweep candidate changed after it was
// listed. The sweep skips such customers.
var errCustomerActive = errors.New("customer has recent loyalty activity")

// expireInactive expires the customer's whole balance, re-checking under the
// customer lock that nothing was recorded after cutoff.
func (s *Service) expireInactive(ctx context.Context, customerID string, cutoff time.Time, reason string) (domain.Transaction, error) {
	tx, _, err := s.apply(ctx, "expire", customerID, func(c domain.Customer) (domain.Transaction, error) {
		if c.LoyaltyPoints <= 0 || !c.UpdatedAt.Before(cutoff) {
			return domain.Transaction{}, errCustomerActive
		}
		return domain.Transaction{
			Type:      domain.TransactionExpire,
			Points:    -c.LoyaltyPoints,
			Reference: domain.Reference{Type: domain.ReferenceSystem},
			Reason:    reason,
		}, nil
	})
	return tx, err
}
