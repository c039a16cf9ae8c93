package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

type customerRow struct {
	ID            string    `db:"id"`
	FirstName     string    `db:"first_name"`
	LastName      string    `db:"last_name"`
	LoyaltyPoints int64     `db:"loyalty_points"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r customerRow) toDomain() loyalty.Customer {
	return loyalty.Customer{
		ID:            r.ID,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		LoyaltyPoints: r.LoyaltyPoints,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

const customerColumns = `id, first_name, last_name, loyalty_points, created_at, updated_at`

func (s *Store) CreateCustomer(ctx context.Context, customer loyalty.Customer) (loyalty.Customer, error) {
	if customer.ID == "" {
		return loyalty.Customer{}, fmt.Errorf("sqlstore: customer id is required")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.CreatedAt = customer.CreatedAt.UTC().Truncate(time.Microsecond)
	customer.UpdatedAt = customer.CreatedAt

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`),
		customer.ID, customer.FirstName, customer.LastName, customer.LoyaltyPoints,
		s.timeArg(customer.CreatedAt), s.timeArg(customer.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return loyalty.Customer{}, storage.ErrDuplicate
		}
		return loyalty.Customer{}, fmt.Errorf("sqlstore: create customer: %w", err)
	}
	return customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (loyalty.Customer, error) {
	var row customerRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+customerColumns+` FROM customers WHERE id = ?`), id)
	if err != nil {
		return loyalty.Customer{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListInactiveCustomers(ctx context.Context, before time.Time) ([]loyalty.Customer, error) {
	var rows []customerRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT c.id, c.first_name, c.last_name, c.loyalty_points, c.created_at, c.updated_at
		FROM customers c
		JOIN (
			SELECT customer_id, MAX(created_at) AS last_activity
			FROM loyalty_transactions
			GROUP BY customer_id
		) t ON t.customer_id = c.id
		WHERE c.loyalty_points > 0 AND t.last_activity < ?
		ORDER BY c.id`), s.timeArg(before))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list inactive customers: %w", err)
	}
	out := make([]loyalty.Customer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
