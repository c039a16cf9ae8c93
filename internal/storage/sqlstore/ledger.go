package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

type transactionRow struct {
	Seq           int64     `db:"seq"`
	ID            string    `db:"id"`
	CustomerID    string    `db:"customer_id"`
	Type          string    `db:"type"`
	Points        int64     `db:"points"`
	PointsBalance int64     `db:"points_balance"`
	ReferenceType string    `db:"reference_type"`
	ReferenceID   string    `db:"reference_id"`
	Reason        string    `db:"reason"`
	Value         float64   `db:"value"`
	PerformedBy   string    `db:"performed_by"`
	Metadata      string    `db:"metadata"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r transactionRow) toDomain() (loyalty.Transaction, error) {
	tx := loyalty.Transaction{
		ID:            r.ID,
		Sequence:      r.Seq,
		CustomerID:    r.CustomerID,
		Type:          loyalty.TransactionType(r.Type),
		Points:        r.Points,
		PointsBalance: r.PointsBalance,
		Reference:     loyalty.Reference{Type: loyalty.ReferenceType(r.ReferenceType), ID: r.ReferenceID},
		Reason:        r.Reason,
		Value:         r.Value,
		PerformedBy:   r.PerformedBy,
		Timestamp:     r.CreatedAt.UTC(),
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &tx.Metadata); err != nil {
			return loyalty.Transaction{}, fmt.Errorf("sqlstore: decode metadata of %s: %w", r.ID, err)
		}
	}
	return tx, nil
}

const transactionColumns = `seq, id, customer_id, type, points, points_balance, reference_type,
	reference_id, reason, value, performed_by, metadata, created_at`

func (s *Store) ApplyEntry(ctx context.Context, expectedBalance int64, entry loyalty.Transaction) (loyalty.Transaction, loyalty.Customer, error) {
	metadata := "{}"
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: encode metadata: %w", err)
		}
		metadata = string(b)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE customers SET loyalty_points = ?, updated_at = ?
		WHERE id = ? AND loyalty_points = ?`),
		entry.PointsBalance, s.timeArg(entry.Timestamp), entry.CustomerID, expectedBalance)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: update balance: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := tx.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM customers WHERE id = ?`), entry.CustomerID); err != nil {
			return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: check customer: %w", err)
		}
		if exists == 0 {
			return loyalty.Transaction{}, loyalty.Customer{}, storage.ErrNotFound
		}
		return loyalty.Transaction{}, loyalty.Customer{}, storage.ErrBalanceConflict
	}

	var seq int64
	err = tx.QueryRowxContext(ctx, s.q(`
		INSERT INTO loyalty_transactions (id, customer_id, type, points, points_balance, reference_type,
			reference_id, reason, value, performed_by, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`),
		entry.ID, entry.CustomerID, string(entry.Type), entry.Points, entry.PointsBalance,
		string(entry.Reference.Type), entry.Reference.ID, entry.Reason, entry.Value,
		entry.PerformedBy, metadata, s.timeArg(entry.Timestamp)).Scan(&seq)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: append ledger entry: %w", err)
	}

	var row customerRow
	if err := tx.GetContext(ctx, &row, s.q(`SELECT `+customerColumns+` FROM customers WHERE id = ?`), entry.CustomerID); err != nil {
		return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: reload customer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return loyalty.Transaction{}, loyalty.Customer{}, fmt.Errorf("sqlstore: commit: %w", err)
	}
	committed = true

	entry.Sequence = seq
	return entry, row.toDomain(), nil
}

// where builds the shared predicate of ListTransactions and CountTransactions.
func (s *Store) where(filter loyalty.TransactionFilter) (string, []interface{}) {
	clauses := []string{"customer_id = ?"}
	args := []interface{}{filter.CustomerID}
	if filter.StartDate != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, s.timeArg(*filter.StartDate))
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, s.timeArg(*filter.EndDate))
	}
	if filter.Type != nil {
		clauses = append(clauses, "type = ?")
		args = append(args, string(*filter.Type))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListTransactions(ctx context.Context, filter loyalty.TransactionFilter) ([]loyalty.Transaction, error) {
	where, args := s.where(filter)
	query := `SELECT ` + transactionColumns + ` FROM loyalty_transactions` + where +
		` ORDER BY created_at DESC, seq DESC`

	switch {
	case filter.Limit > 0:
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	case filter.Skip > 0 && s.driver == DriverSQLite:
		// SQLite only accepts OFFSET after a LIMIT clause.
		query += ` LIMIT -1`
	}
	if filter.Skip > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Skip)
	}

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list transactions: %w", err)
	}
	out := make([]loyalty.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) CountTransactions(ctx context.Context, filter loyalty.TransactionFilter) (int, error) {
	where, args := s.where(filter)
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM loyalty_transactions`+where), args...); err != nil {
		return 0, fmt.Errorf("sqlstore: count transactions: %w", err)
	}
	return n, nil
}

// ReplayTransactions streams entries in commit order. fn must not call back
// into the store: SQLite runs on a single connection which the open cursor
// holds.
func (s *Store) ReplayTransactions(ctx context.Context, customerID string, fn func(loyalty.Transaction) error) error {
	rows, err := s.db.QueryxContext(ctx, s.q(`SELECT `+transactionColumns+`
		FROM loyalty_transactions WHERE customer_id = ?
		ORDER BY created_at ASC, seq ASC`), customerID)
	if err != nil {
		return fmt.Errorf("sqlstore: replay transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r transactionRow
		if err := rows.StructScan(&r); err != nil {
			return fmt.Errorf("sqlstore: scan transaction: %w", err)
		}
		tx, err := r.toDomain()
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlstore: replay transactions: %w", err)
	}
	return nil
}
