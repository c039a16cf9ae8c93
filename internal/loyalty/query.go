package loyalty

import (
	"context"
	"math"
	"strings"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
)

// Pagination describes one page of a history listing.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// History is a page of a customer's ledger.
type History struct {
	Customer     domain.Summary       `json:"customer"`
	Transactions []domain.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// GetCustomerTransactions lists a customer's ledger entries newest first.
// A zero limit uses DefaultPageLimit and limits above MaxPageLimit are
// capped.
func (s *Service) GetCustomerTransactions(ctx context.Context, customerID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter, err := s.prepareFilter(customerID, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit = normalizeLimit(filter.Limit)

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.store.GetCustomer(opCtx, customerID); err != nil {
		return nil, s.customerError(opCtx, "list loyalty transactions", customerID, err)
	}
	txs, err := s.store.ListTransactions(opCtx, filter)
	if err != nil {
		return nil, storageError(opCtx, "list loyalty transactions", err)
	}
	return txs, nil
}

// CountTransactions counts the entries GetCustomerTransactions would return
// without paging.
func (s *Service) CountTransactions(ctx context.Context, customerID string, filter domain.TransactionFilter) (int, error) {
	filter, err := s.prepareFilter(customerID, filter)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.store.CountTransactions(opCtx, filter)
	if err != nil {
		return 0, storageError(opCtx, "count loyalty transactions", err)
	}
	return n, nil
}

// CustomerHistory returns the customer, one page of entries and the paging
// metadata. page is 1-based and must keep the page offset within int.
func (s *Service) CustomerHistory(ctx context.Context, customerID string, filter domain.TransactionFilter, page, limit int) (History, error) {
	if page <= 0 {
		page = 1
	}
	limit = normalizeLimit(limit)
	if maxPage := math.MaxInt/limit + 1; page > maxPage {
		return History{}, errors.Validationf("page must not exceed %d", maxPage)
	}
	filter, err := s.prepareFilter(customerID, filter)
	if err != nil {
		return History{}, err
	}
	filter.Limit = limit
	filter.Skip = (page - 1) * limit

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	customer, err := s.store.GetCustomer(opCtx, customerID)
	if err != nil {
		return History{}, s.customerError(opCtx, "load loyalty history", customerID, err)
	}
	txs, err := s.store.ListTransactions(opCtx, filter)
	if err != nil {
		return History{}, storageError(opCtx, "load loyalty history", err)
	}
	total, err := s.store.CountTransactions(opCtx, filter)
	if err != nil {
		return History{}, storageError(opCtx, "load loyalty history", err)
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	return History{
		Customer:     customer.Summary(),
		Transactions: txs,
		Pagination: Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: (total + limit - 1) / limit,
		},
	}, nil
}

// CustomerSummary returns the customer with its current status tier.
func (s *Service) CustomerSummary(ctx context.Context, customerID string) (domain.Summary, error) {
	if strings.TrimSpace(customerID) == "" {
		return domain.Summary{}, errors.Validation("customerId is required")
	}
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return domain.Summary{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	customer, err := s.store.GetCustomer(opCtx, customerID)
	if err != nil {
		return domain.Summary{}, s.customerError(opCtx, "load customer", customerID, err)
	}
	return s.summary(settings, customer), nil
}

func (s *Service) prepareFilter(customerID string, filter domain.TransactionFilter) (domain.TransactionFilter, error) {
	if strings.TrimSpace(customerID) == "" {
		return filter, errors.Validation("customerId is required")
	}
	filter.CustomerID = customerID
	if filter.Type != nil && !filter.Type.Valid() {
		return filter, errors.Validation("type must be one of earn, redeem, adjust, expire")
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return filter, errors.Validation("endDate must not be before startDate")
	}
	if filter.Skip < 0 {
		return filter, errors.Validation("skip must be greater than or equal to 0")
	}
	if filter.Limit < 0 {
		return filter, errors.Validation("limit must be greater than or equal to 0")
	}
	return filter, nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}
