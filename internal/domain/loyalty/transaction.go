package loyalty

import "time"

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionEarn   TransactionType = "earn"
	TransactionRedeem TransactionType = "redeem"
	TransactionAdjust TransactionType = "adjust"
	TransactionExpire TransactionType = "expire"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarn, TransactionRedeem, TransactionAdjust, TransactionExpire:
		return true
	}
	return false
}

// ReferenceType names what caused a ledger entry.
type ReferenceType string

const (
	ReferenceTransaction ReferenceType = "transaction"
	ReferenceManual      ReferenceType = "manual"
	ReferenceSystem      ReferenceType = "system"
)

// Reference points at the cause of a ledger entry.
type Reference struct {
	Type ReferenceType `json:"type"`
	ID   string        `json:"id,omitempty"`
}

// Transaction is an immutable ledger entry.
//
// Points is the signed delta applied to the balance (earn > 0, redeem and
// expire < 0, adjust either sign), so PointsBalance always equals the
// previous entry's PointsBalance plus Points.
type Transaction struct {
	ID            string          `json:"_id"`
	Sequence      int64           `json:"sequence"`
	CustomerID    string          `json:"customer"`
	Type          TransactionType `json:"type"`
	Points        int64           `json:"points"`
	PointsBalance int64           `json:"pointsBalance"`
	Reference     Reference       `json:"reference"`
	Reason        string          `json:"reason"`
	Value         float64         `json:"value"`
	PerformedBy   string          `json:"performedBy,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// TransactionFilter selects ledger entries for one customer. Dates are
// inclusive. Limit and Skip are ignored when counting.
type TransactionFilter struct {
	CustomerID string
	StartDate  *time.Time
	EndDate    *time.Time
	Type       *TransactionType
	Limit      int
	Skip       int
}

// Matches reports whether tx satisfies every predicate of the filter.
// Stores that filter in memory use this so listing and counting agree.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.CustomerID != "" && tx.CustomerID != f.CustomerID {
		return false
	}
	if f.StartDate != nil && tx.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && tx.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.Type != nil && tx.Type != *f.Type {
		return false
	}
	return true
}
