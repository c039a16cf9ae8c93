package loyalty

import (
	"context"
	"strings"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
)

// BrokenEntry identifies the first ledger entry whose snapshot does not
// follow from the entry before it.
type BrokenEntry struct {
	TransactionID string `json:"transactionId"`
	Sequence      int64  `json:"sequence"`
	Expected      int64  `json:"expectedBalance"`
	Recorded      int64  `json:"recordedBalance"`
}

// AuditReport is the result of replaying one customer's ledger.
type AuditReport struct {
	CustomerID    string `json:"customerId"`
	Entries       int    `json:"entries"`
	SummedPoints  int64  `json:"summedPoints"`
	LastSnapshot  int64  `json:"lastSnapshot"`
	StoredBalance int64  `json:"storedBalance"`
	// OpeningBalance is the balance the first entry was applied to.
	OpeningBalance   int64        `json:"openingBalance"`
	Consistent       bool         `json:"consistent"`
	FirstBrokenEntry *BrokenEntry `json:"firstBrokenEntry,omitempty"`
}

// AuditCustomer replays the customer's ledger in commit order and checks
// every snapshot against the running sum of deltas and the final sum
// against the stored balance. Mutations for the customer wait until the
// replay is finished.
func (s *Service) AuditCustomer(ctx context.Context, customerID string) (AuditReport, error) {
	if strings.TrimSpace(customerID) == "" {
		return AuditReport{}, errors.Validation("customerId is required")
	}
	const op = "audit loyalty ledger"

	unlock, err := s.locks.Lock(ctx, customerID)
	if err != nil {
		return AuditReport{}, storageError(ctx, op, err)
	}
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	customer, err := s.store.GetCustomer(opCtx, customerID)
	if err != nil {
		return AuditReport{}, s.customerError(opCtx, op, customerID, err)
	}

	report := AuditReport{CustomerID: customerID, StoredBalance: customer.LoyaltyPoints}
	var running int64
	err = s.store.ReplayTransactions(opCtx, customerID, func(tx domain.Transaction) error {
		if report.Entries == 0 {
			report.OpeningBalance = tx.PointsBalance - tx.Points
			running = report.OpeningBalance
		}
		report.Entries++
		report.SummedPoints += tx.Points
		running += tx.Points
		if report.FirstBrokenEntry == nil && running != tx.PointsBalance {
			report.FirstBrokenEntry = &BrokenEntry{
				TransactionID: tx.ID,
				Sequence:      tx.Sequence,
				Expected:      running,
				Recorded:      tx.PointsBalance,
			}
		}
		// Continue from the recorded snapshot so one bad entry is reported once.
		running = tx.PointsBalance
		report.LastSnapshot = tx.PointsBalance
		return nil
	})
	if err != nil {
		return AuditReport{}, storageError(opCtx, op, err)
	}

	report.Consistent = report.FirstBrokenEntry == nil &&
		report.LastSnapshot == report.StoredBalance &&
		report.OpeningBalance+report.SummedPoints == report.StoredBalance
	if report.Entries == 0 {
		report.Consistent = report.StoredBalance == 0
	}

	if !report.Consistent {
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"customer_id":    customerID,
			"stored_balance": report.StoredBalance,
			"last_snapshot":  report.LastSnapshot,
			"summed_points":  report.SummedPoints,
		}).Warn("loyalty ledger is inconsistent with the stored balance")
	}
	return report, nil
}
