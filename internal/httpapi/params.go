package httpapi

import (
	"net/url"
	"strconv"
	"time"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
)

const dateLayout = "2006-01-02"

// parseFilter reads startDate, endDate and type from the query. Dates are
// RFC3339 timestamps or calendar dates in UTC; a calendar endDate covers the
// whole day.
func parseFilter(q url.Values) (domain.TransactionFilter, error) {
	var filter domain.TransactionFilter
	if raw := q.Get("startDate"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			return filter, errors.InvalidFormat("startDate", "RFC3339 or YYYY-MM-DD")
		}
		filter.StartDate = &t
	}
	if raw := q.Get("endDate"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			return filter, errors.InvalidFormat("endDate", "RFC3339 or YYYY-MM-DD")
		}
		filter.EndDate = &t
	}
	if raw := q.Get("type"); raw != "" {
		typ := domain.TransactionType(raw)
		if !typ.Valid() {
			return filter, errors.InvalidFormat("type", "one of earn, redeem, adjust, expire")
		}
		filter.Type = &typ
	}
	return filter, nil
}

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.AddDate(0, 0, 1).Add(-time.Microsecond), nil
	}
	return day, nil
}

func intParam(raw, name string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidFormat(name, "a non-negative integer")
	}
	return n, nil
}
