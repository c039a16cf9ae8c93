package loyalty

import "time"

// Customer is the slice of the customer record this service reads and the
// balance it owns.
type Customer struct {
	ID            string    `json:"_id"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	LoyaltyPoints int64     `json:"loyaltyPoints"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Summary is the customer view returned alongside ledger operations.
type Summary struct {
	ID            string     `json:"_id"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	LoyaltyPoints int64      `json:"loyaltyPoints"`
	Status        StatusTier `json:"status,omitempty"`
}

// Summary returns the public view of the customer.
func (c Customer) Summary() Summary {
	return Summary{
		ID:            c.ID,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		LoyaltyPoints: c.LoyaltyPoints,
	}
}
