package loyalty

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
	"github.com/R3E-Network/loyalty_layer/internal/metrics"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

// ExpiryReason is recorded on entries written by ExpirePoints.
const ExpiryReason = "Points expired"

// MaxPurchaseAmount is the largest sale EarnForPurchase accepts.
const MaxPurchaseAmount = 1e9

// entryBuilder derives the ledger entry for a mutation from the freshly read
// customer. It returns the signed delta in Points and may reject the
// mutation. It runs again on every conflict retry.
type entryBuilder func(customer domain.Customer) (domain.Transaction, error)

// apply runs one balance mutation: it serializes on the customer, reads the
// balance, builds the entry and hands the pair to the store as a single
// compare-and-swap. A lost race is retried from a fresh read; timeouts are not.
func (s *Service) apply(ctx context.Context, op, customerID string, build entryBuilder) (domain.Transaction, domain.Customer, error) {
	start := time.Now()
	tx, customer, err := s.applyLocked(ctx, op, customerID, build)

	outcome := "ok"
	switch {
	case err == nil:
		metrics.RecordPoints(string(tx.Type), tx.Points)
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"operation":      op,
			"customer_id":    customerID,
			"transaction_id": tx.ID,
			"points":         tx.Points,
			"balance":        tx.PointsBalance,
		}).Info("loyalty ledger entry recorded")
	case errors.Is(err, errCustomerActive):
		outcome = "skipped"
	case errors.IsClientError(err):
		outcome = "rejected"
	default:
		outcome = "error"
		s.log.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"operation":   op,
			"customer_id": customerID,
		}).Error("loyalty ledger mutation failed")
	}
	metrics.RecordLedgerOperation(op, outcome, time.Since(start))
	return tx, customer, err
}

func (s *Service) applyLocked(ctx context.Context, op, customerID string, build entryBuilder) (domain.Transaction, domain.Customer, error) {
	unlock, err := s.locks.Lock(ctx, customerID)
	if err != nil {
		return domain.Transaction{}, domain.Customer{}, storageError(ctx, op, err)
	}
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 0; attempt <= s.retries; attempt++ {
		customer, err := s.store.GetCustomer(opCtx, customerID)
		if err != nil {
			return domain.Transaction{}, domain.Customer{}, s.customerError(opCtx, op, customerID, err)
		}

		entry, err := build(customer)
		if err != nil {
			return domain.Transaction{}, domain.Customer{}, err
		}
		if entry.Points > 0 && customer.LoyaltyPoints > math.MaxInt64-entry.Points {
			return domain.Transaction{}, domain.Customer{}, errors.Validation("points balance would exceed the supported maximum")
		}
		balance := customer.LoyaltyPoints + entry.Points
		if balance < 0 {
			return domain.Transaction{}, domain.Customer{}, errors.InsufficientBalance(customer.LoyaltyPoints, -entry.Points)
		}

		entry.ID = uuid.NewString()
		entry.CustomerID = customer.ID
		entry.PointsBalance = balance
		entry.Timestamp = s.timestampAfter(customer.UpdatedAt)

		saved, updated, err := s.store.ApplyEntry(opCtx, customer.LoyaltyPoints, entry)
		switch {
		case err == nil:
			return saved, updated, nil
		case errors.Is(err, storage.ErrBalanceConflict):
			metrics.RecordBalanceConflict()
			s.log.WithContext(ctx).WithFields(map[string]interface{}{
				"operation":   op,
				"customer_id": customerID,
				"attempt":     attempt + 1,
			}).Warn("balance changed concurrently, retrying")
			continue
		default:
			return domain.Transaction{}, domain.Customer{}, s.customerError(opCtx, op, customerID, err)
		}
	}
	return domain.Transaction{}, domain.Customer{}, errors.Storage(op,
		fmt.Errorf("gave up after %d attempts: %w", s.retries+1, storage.ErrBalanceConflict))
}

func (s *Service) customerError(ctx context.Context, op, customerID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("customer", customerID)
	}
	return storageError(ctx, op, err)
}

// timestampAfter returns the current time, never earlier than the
// customer's last change, so ledger timestamps are monotone per customer.
func (s *Service) timestampAfter(last time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	last = last.UTC().Truncate(time.Microsecond)
	if now.Before(last) {
		return last
	}
	return now
}

// AdjustPoints applies a manual correction of delta points.
func (s *Service) AdjustPoints(ctx context.Context, customerID string, delta int64, reason, performedBy string) (domain.Summary, domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	switch {
	case strings.TrimSpace(customerID) == "":
		return domain.Summary{}, domain.Transaction{}, errors.Validation("customerId is required")
	case delta == 0:
		return domain.Summary{}, domain.Transaction{}, errors.Validation("points must be a non-zero integer")
	case reason == "":
		return domain.Summary{}, domain.Transaction{}, errors.Validation("reason is required")
	}

	tx, customer, err := s.apply(ctx, "adjust", customerID, func(domain.Customer) (domain.Transaction, error) {
		return domain.Transaction{
			Type:        domain.TransactionAdjust,
			Points:      delta,
			Reference:   domain.Reference{Type: domain.ReferenceManual, ID: performedBy},
			Reason:      reason,
			PerformedBy: performedBy,
		}, nil
	})
	if err != nil {
		return domain.Summary{}, domain.Transaction{}, err
	}
	return customer.Summary(), tx, nil
}

// RecordEarn credits points earned by the sale sourceTransactionID.
func (s *Service) RecordEarn(ctx context.Context, customerID string, points int64, sourceTransactionID string) (domain.Transaction, error) {
	if points <= 0 {
		return domain.Transaction{}, errors.Validation("points must be greater than 0")
	}
	tx, _, err := s.apply(ctx, "earn", customerID, func(domain.Customer) (domain.Transaction, error) {
		return earnEntry(points, sourceTransactionID, nil), nil
	})
	return tx, err
}

func earnEntry(points int64, sourceTransactionID string, metadata map[string]any) domain.Transaction {
	return domain.Transaction{
		Type:      domain.TransactionEarn,
		Points:    points,
		Reference: domain.Reference{Type: domain.ReferenceTransaction, ID: sourceTransactionID},
		Reason:    "Points earned from purchase",
		Metadata:  metadata,
	}
}

// RecordRedeem debits points spent against the sale sourceTransactionID.
// value is the monetary amount the points paid for.
func (s *Service) RecordRedeem(ctx context.Context, customerID string, points int64, value float64, sourceTransactionID string) (domain.Transaction, error) {
	if err := validateRedeem(points, value); err != nil {
		return domain.Transaction{}, err
	}
	tx, _, err := s.apply(ctx, "redeem", customerID, func(domain.Customer) (domain.Transaction, error) {
		return redeemEntry(points, value, sourceTransactionID), nil
	})
	return tx, err
}

func validateRedeem(points int64, value float64) error {
	if points <= 0 {
		return errors.Validation("points must be greater than 0")
	}
	if value < 0 {
		return errors.Validation("value must be greater than or equal to 0")
	}
	return nil
}

func redeemEntry(points int64, value float64, sourceTransactionID string) domain.Transaction {
	return domain.Transaction{
		Type:      domain.TransactionRedeem,
		Points:    -points,
		Reference: domain.Reference{Type: domain.ReferenceTransaction, ID: sourceTransactionID},
		Reason:    "Points redeemed for purchase",
		Value:     value,
	}
}

// ExpirePoints removes points from the balance on behalf of the system.
func (s *Service) ExpirePoints(ctx context.Context, customerID string, points int64) (domain.Transaction, error) {
	return s.expire(ctx, customerID, points, ExpiryReason)
}

func (s *Service) expire(ctx context.Context, customerID string, points int64, reason string) (domain.Transaction, error) {
	if points <= 0 {
		return domain.Transaction{}, errors.Validation("points must be greater than 0")
	}
	tx, _, err := s.apply(ctx, "expire", customerID, func(domain.Customer) (domain.Transaction, error) {
		return domain.Transaction{
			Type:      domain.TransactionExpire,
			Points:    -points,
			Reference: domain.Reference{Type: domain.ReferenceSystem},
			Reason:    reason,
		}, nil
	})
	return tx, err
}

// EarnRequest describes a completed sale to accrue points for.
type EarnRequest struct {
	CustomerID    string  `json:"-"`
	Amount        float64 `json:"amount"`
	CategoryID    string  `json:"categoryId,omitempty"`
	TransactionID string  `json:"transactionId"`
}

// EarnResult is the outcome of EarnForPurchase.
type EarnResult struct {
	Customer    domain.Summary     `json:"customer"`
	Transaction domain.Transaction `json:"transaction"`
}

// EarnForPurchase computes the points a sale earns at the customer's
// current status and credits them.
func (s *Service) EarnForPurchase(ctx context.Context, req EarnRequest) (EarnResult, error) {
	switch {
	case strings.TrimSpace(req.CustomerID) == "":
		return EarnResult{}, errors.Validation("customerId is required")
	case math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0):
		return EarnResult{}, errors.Validation("amount must be a finite number")
	case req.Amount <= 0:
		return EarnResult{}, errors.Validation("amount must be greater than 0")
	case req.Amount > MaxPurchaseAmount:
		return EarnResult{}, errors.Validationf("amount must not exceed %.0f", MaxPurchaseAmount)
	case strings.TrimSpace(req.TransactionID) == "":
		return EarnResult{}, errors.Validation("transactionId is required")
	}

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return EarnResult{}, err
	}
	if !settings.Enabled {
		return EarnResult{}, errors.Validation("loyalty program is disabled")
	}

	tx, customer, err := s.apply(ctx, "earn", req.CustomerID, func(c domain.Customer) (domain.Transaction, error) {
		tier := StatusFor(settings, c.LoyaltyPoints)
		points := ComputeEarnedPoints(settings, req.Amount, tier, req.CategoryID, settings.Promotions, s.now().UTC())
		if points == 0 {
			return domain.Transaction{}, errors.Validation("purchase earns no points")
		}
		metadata := map[string]any{
			"purchaseAmount": req.Amount,
			"statusTier":     string(tier),
		}
		if req.CategoryID != "" {
			metadata["categoryId"] = req.CategoryID
		}
		return earnEntry(points, req.TransactionID, metadata), nil
	})
	if err != nil {
		return EarnResult{}, err
	}
	return EarnResult{Customer: s.summary(settings, customer), Transaction: tx}, nil
}

// RedemptionQuote prices a number of points under the current settings.
type RedemptionQuote struct {
	Points         int64   `json:"points"`
	Value          float64 `json:"value"`
	RedemptionRate float64 `json:"redemptionRate"`
	Allowed        bool    `json:"allowed"`
	Reason         string  `json:"reason,omitempty"`
}

// QuoteRedemption returns what points are worth and whether the settings
// allow redeeming that many at once.
func (s *Service) QuoteRedemption(ctx context.Context, points int64) (RedemptionQuote, error) {
	if points <= 0 {
		return RedemptionQuote{}, errors.Validation("points must be greater than 0")
	}
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return RedemptionQuote{}, err
	}
	return quote(settings, points), nil
}

func quote(settings domain.Settings, points int64) RedemptionQuote {
	q := RedemptionQuote{
		Points:         points,
		Value:          RedemptionValue(settings, points),
		RedemptionRate: settings.RedemptionRate,
		Allowed:        true,
	}
	switch {
	case !settings.Enabled:
		q.Allowed, q.Reason = false, "loyalty program is disabled"
	case float64(points) < settings.MinimumRedemption:
		q.Allowed, q.Reason = false, fmt.Sprintf("at least %v points must be redeemed", settings.MinimumRedemption)
	case settings.MaximumRedemptionValue > 0 && q.Value > settings.MaximumRedemptionValue:
		q.Allowed, q.Reason = false, fmt.Sprintf("redemption value may not exceed %.2f", settings.MaximumRedemptionValue)
	}
	return q
}

// RedeemRequest describes points offered as payment for a sale.
type RedeemRequest struct {
	CustomerID    string `json:"-"`
	Points        int64  `json:"points"`
	TransactionID string `json:"transactionId"`
}

// RedeemResult is the outcome of Redeem.
type RedeemResult struct {
	Customer    domain.Summary     `json:"customer"`
	Transaction domain.Transaction `json:"transaction"`
	Value       float64            `json:"value"`
}

// Redeem spends points at the configured rate after checking the
// redemption limits.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (RedeemResult, error) {
	switch {
	case strings.TrimSpace(req.CustomerID) == "":
		return RedeemResult{}, errors.Validation("customerId is required")
	case req.Points <= 0:
		return RedeemResult{}, errors.Validation("points must be greater than 0")
	case strings.TrimSpace(req.TransactionID) == "":
		return RedeemResult{}, errors.Validation("transactionId is required")
	}

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return RedeemResult{}, err
	}
	q := quote(settings, req.Points)
	if !q.Allowed {
		return RedeemResult{}, errors.Validation(q.Reason)
	}

	tx, customer, err := s.apply(ctx, "redeem", req.CustomerID, func(c domain.Customer) (domain.Transaction, error) {
		if float64(c.LoyaltyPoints) < settings.MinimumPoints {
			return domain.Transaction{}, errors.Validationf("customer needs at least %v points before redeeming", settings.MinimumPoints).
				WithDetails("available", c.LoyaltyPoints)
		}
		return redeemEntry(req.Points, q.Value, req.TransactionID), nil
	})
	if err != nil {
		return RedeemResult{}, err
	}
	return RedeemResult{Customer: s.summary(settings, customer), Transaction: tx, Value: q.Value}, nil
}

func (s *Service) summary(settings domain.Settings, c domain.Customer) domain.Summary {
	sum := c.Summary()
	sum.Status = StatusFor(settings, c.LoyaltyPoints)
	return sum
}
