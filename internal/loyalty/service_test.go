package loyalty

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
	"github.com/R3E-Network/loyalty_layer/internal/storage/memory"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// stepClock advances by one minute on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock { return &stepClock{now: start} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	settings *SettingsService
	clock    *stepClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	clock := newStepClock(epoch)
	settings := NewSettingsService(mem, nil, quietLogger(), 0)
	return &fixture{
		svc:      NewService(mem, settings, Options{Logger: quietLogger(), Now: clock.Now}),
		store:    mem,
		settings: settings,
		clock:    clock,
	}
}

func (f *fixture) seed(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.CreateCustomer(context.Background(), domain.Customer{
		ID: id, FirstName: "Grace", LastName: "Hopper", CreatedAt: epoch.Add(-time.Hour),
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	c, err := f.store.GetCustomer(context.Background(), id)
	require.NoError(t, err)
	return c.LoyaltyPoints
}

func (f *fixture) entries(t *testing.T, id string) int {
	t.Helper()
	n, err := f.store.CountTransactions(context.Background(), domain.TransactionFilter{CustomerID: id})
	require.NoError(t, err)
	return n
}

func TestEarnAdjustRedeemScenario(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()

	earn, err := f.svc.RecordEarn(ctx, "cust-1", 500, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionEarn, earn.Type)
	assert.Equal(t, int64(500), earn.Points)
	assert.Equal(t, int64(500), earn.PointsBalance)
	assert.Equal(t, domain.Reference{Type: domain.ReferenceTransaction, ID: "sale-1"}, earn.Reference)
	assert.Equal(t, int64(500), f.balance(t, "cust-1"))

	_, _, err = f.svc.AdjustPoints(ctx, "cust-1", -600, "correction", "admin-1")
	require.Error(t, err)
	assert.True(t, errors.IsInsufficientBalance(err))
	assert.Equal(t, int64(500), f.balance(t, "cust-1"))
	assert.Equal(t, 1, f.entries(t, "cust-1"))

	redeem, err := f.svc.RecordRedeem(ctx, "cust-1", 500, 5.00, "sale-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionRedeem, redeem.Type)
	assert.Equal(t, int64(-500), redeem.Points)
	assert.Equal(t, int64(0), redeem.PointsBalance)
	assert.Equal(t, 5.00, redeem.Value)
	assert.Equal(t, int64(0), f.balance(t, "cust-1"))
	assert.Equal(t, 2, f.entries(t, "cust-1"))
}

func TestAdjustPointsValidation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()

	_, _, err := f.svc.AdjustPoints(ctx, "cust-1", 0, "nothing", "admin-1")
	assert.True(t, errors.IsValidation(err), "zero delta: %v", err)

	_, _, err = f.svc.AdjustPoints(ctx, "cust-1", 10, "   ", "admin-1")
	assert.True(t, errors.IsValidation(err), "blank reason: %v", err)

	_, _, err = f.svc.AdjustPoints(ctx, "missing", 10, "bonus", "admin-1")
	assert.True(t, errors.IsNotFound(err), "missing customer: %v", err)

	summary, tx, err := f.svc.AdjustPoints(ctx, "cust-1", 25, " goodwill ", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), summary.LoyaltyPoints)
	assert.Equal(t, "goodwill", tx.Reason)
	assert.Equal(t, domain.Reference{Type: domain.ReferenceManual, ID: "admin-1"}, tx.Reference)
	assert.Equal(t, "admin-1", tx.PerformedBy)
	assert.NotEmpty(t, tx.ID)
}

func TestExpirePoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()

	_, err := f.svc.RecordEarn(ctx, "cust-1", 100, "sale-1")
	require.NoError(t, err)

	_, err = f.svc.ExpirePoints(ctx, "cust-1", 101)
	assert.True(t, errors.IsInsufficientBalance(err))

	tx, err := f.svc.ExpirePoints(ctx, "cust-1", 40)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionExpire, tx.Type)
	assert.Equal(t, int64(-40), tx.Points)
	assert.Equal(t, int64(60), tx.PointsBalance)
	assert.Equal(t, domain.ReferenceSystem, tx.Reference.Type)
	assert.Empty(t, tx.PerformedBy)
}

func TestBalanceNeverNegative(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 300; i++ {
		before := f.balance(t, "cust-1")
		entriesBefore := f.entries(t, "cust-1")
		var err error
		switch rng.Intn(3) {
		case 0:
			delta := int64(rng.Intn(400) - 200)
			if delta == 0 {
				delta = 1
			}
			_, _, err = f.svc.AdjustPoints(ctx, "cust-1", delta, "random", "admin-1")
		case 1:
			_, err = f.svc.RecordRedeem(ctx, "cust-1", int64(rng.Intn(300)+1), 1, "sale")
		default:
			_, err = f.svc.RecordEarn(ctx, "cust-1", int64(rng.Intn(150)+1), "sale")
		}

		after := f.balance(t, "cust-1")
		require.GreaterOrEqual(t, after, int64(0))
		if err != nil {
			require.True(t, errors.IsInsufficientBalance(err), "unexpected error: %v", err)
			require.Equal(t, before, after)
			require.Equal(t, entriesBefore, f.entries(t, "cust-1"))
		}
	}

	report, err := f.svc.AuditCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, f.balance(t, "cust-1"), report.SummedPoints)
}

func TestConcurrentDeductionsSerialize(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()
	_, err := f.svc.RecordEarn(ctx, "cust-1", 1000, "sale-1")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		succeeded int32
		rejected  int32
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := f.svc.AdjustPoints(ctx, "cust-1", -600, "concurrent", "admin-1")
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.IsInsufficientBalance(err):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(1), rejected)
	assert.Equal(t, int64(400), f.balance(t, "cust-1"))
}

func TestConcurrentCreditsAllApply(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	f.seed(t, "cust-2")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, id := range []string{"cust-1", "cust-2"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, _, err := f.svc.AdjustPoints(ctx, id, 2, "burst", "admin-1"); err != nil {
					t.Errorf("adjust %s: %v", id, err)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []string{"cust-1", "cust-2"} {
		assert.Equal(t, int64(100), f.balance(t, id))
		report, err := f.svc.AuditCustomer(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
		assert.Equal(t, 50, report.Entries)
	}
	assert.Equal(t, 0, f.svc.locks.size())
}

// conflictingStore fails the first n ApplyEntry calls as if another process
// had moved the balance.
type conflictingStore struct {
	*memory.Store
	remaining int32
	calls     int32
}

func (s *conflictingStore) ApplyEntry(ctx context.Context, expected int64, entry domain.Transaction) (domain.Transaction, domain.Customer, error) {
	atomic.AddInt32(&s.calls, 1)
	if atomic.AddInt32(&s.remaining, -1) >= 0 {
		return domain.Transaction{}, domain.Customer{}, storage.ErrBalanceConflict
	}
	return s.Store.ApplyEntry(ctx, expected, entry)
}

func TestConflictIsRetriedFromFreshRead(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	wrapped := &conflictingStore{Store: f.store, remaining: 2}
	svc := NewService(wrapped, f.settings, Options{Logger: quietLogger(), Now: f.clock.Now})

	tx, err := svc.RecordEarn(context.Background(), "cust-1", 10, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), tx.PointsBalance)
	assert.Equal(t, int32(3), atomic.LoadInt32(&wrapped.calls))
	assert.Equal(t, 1, f.entries(t, "cust-1"))
}

func TestConflictRetriesAreBounded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	wrapped := &conflictingStore{Store: f.store, remaining: 100}
	svc := NewService(wrapped, f.settings, Options{Logger: quietLogger(), Now: f.clock.Now})

	_, err := svc.RecordEarn(context.Background(), "cust-1", 10, "sale-1")
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err))
	assert.True(t, errors.Is(err, storage.ErrBalanceConflict))
	assert.Equal(t, int32(DefaultConflictRetries+1), atomic.LoadInt32(&wrapped.calls))
	assert.Equal(t, 0, f.entries(t, "cust-1"))
}

// slowStore blocks every customer read until the context expires.
type slowStore struct {
	*memory.Store
	applied int32
}

func (s *slowStore) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	<-ctx.Done()
	return domain.Customer{}, ctx.Err()
}

func (s *slowStore) ApplyEntry(ctx context.Context, expected int64, entry domain.Transaction) (domain.Transaction, domain.Customer, error) {
	atomic.AddInt32(&s.applied, 1)
	return s.Store.ApplyEntry(ctx, expected, entry)
}

func TestStorageTimeout(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	slow := &slowStore{Store: f.store}
	svc := NewService(slow, f.settings, Options{Logger: quietLogger(), StorageTimeout: 20 * time.Millisecond})

	_, _, err := svc.AdjustPoints(context.Background(), "cust-1", 10, "bonus", "admin-1")
	require.Error(t, err)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, errors.CodeTimeout, se.Code)
	assert.True(t, errors.IsStorage(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&slow.applied))
	assert.Equal(t, int64(0), f.balance(t, "cust-1"))
}

func TestTimestampsAreMonotonePerCustomer(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	readings := []time.Time{epoch.Add(time.Hour), epoch.Add(30 * time.Minute), epoch.Add(2 * time.Hour)}
	var i int32
	svc := NewService(f.store, f.settings, Options{Logger: quietLogger(), Now: func() time.Time {
		n := atomic.AddInt32(&i, 1) - 1
		return readings[int(n)%len(readings)]
	}})

	ctx := context.Background()
	var last time.Time
	for n := 0; n < 3; n++ {
		tx, err := svc.RecordEarn(ctx, "cust-1", 1, "sale")
		require.NoError(t, err)
		assert.False(t, tx.Timestamp.Before(last), "entry %d went back in time", n)
		last = tx.Timestamp
	}
}

func TestHistoryPaginationMatchesCount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.svc.RecordEarn(ctx, "cust-1", 100, "sale")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, _, err := f.svc.AdjustPoints(ctx, "cust-1", -10, "fix", "admin-1")
		require.NoError(t, err)
	}

	earn := domain.TransactionEarn
	adjust := domain.TransactionAdjust
	redeem := domain.TransactionRedeem
	from := epoch.Add(3 * time.Minute)
	to := epoch.Add(5 * time.Minute)
	filters := map[string]domain.TransactionFilter{
		"all":        {},
		"earn":       {Type: &earn},
		"adjust":     {Type: &adjust},
		"redeem":     {Type: &redeem},
		"from":       {StartDate: &from},
		"to":         {EndDate: &to},
		"range":      {StartDate: &from, EndDate: &to},
		"range+earn": {StartDate: &from, EndDate: &to, Type: &earn},
	}
	for name, filter := range filters {
		t.Run(name, func(t *testing.T) {
			filter.Limit = MaxPageLimit
			list, err := f.svc.GetCustomerTransactions(ctx, "cust-1", filter)
			require.NoError(t, err)
			count, err := f.svc.CountTransactions(ctx, "cust-1", filter)
			require.NoError(t, err)
			assert.Equal(t, len(list), count)
			for i := 1; i < len(list); i++ {
				assert.Greater(t, list[i-1].Sequence, list[i].Sequence, "not newest first")
			}
		})
	}

	page, err := f.svc.CustomerHistory(ctx, "cust-1", domain.TransactionFilter{}, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, Pagination{Total: 7, Page: 3, Limit: 3, Pages: 3}, page.Pagination)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, int64(100), page.Transactions[0].PointsBalance)
	assert.Equal(t, "cust-1", page.Customer.ID)
	assert.Equal(t, int64(370), page.Customer.LoyaltyPoints)

	empty, err := f.svc.CustomerHistory(ctx, "cust-1", domain.TransactionFilter{Type: &redeem}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, Pagination{Total: 0, Page: 1, Limit: DefaultPageLimit, Pages: 0}, empty.Pagination)
	assert.NotNil(t, empty.Transactions)
}

func TestHistoryPageOffsetBounds(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()
	_, err := f.svc.RecordEarn(ctx, "cust-1", 100, "sale-1")
	require.NoError(t, err)

	const limit = 100
	lastPage := math.MaxInt/limit + 1

	// Pages whose offset would wrap must not fall back to earlier data.
	for _, page := range []int{lastPage + 1, math.MaxInt/limit*2 + 17, math.MaxInt} {
		_, err := f.svc.CustomerHistory(ctx, "cust-1", domain.TransactionFilter{}, page, limit)
		require.Error(t, err, "page %d", page)
		assert.True(t, errors.IsValidation(err), "page %d: %v", page, err)
	}

	res, err := f.svc.CustomerHistory(ctx, "cust-1", domain.TransactionFilter{}, lastPage, limit)
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	assert.Equal(t, 1, res.Pagination.Total)
	assert.Equal(t, lastPage, res.Pagination.Page)
}

func TestQueryErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()

	_, err := f.svc.GetCustomerTransactions(ctx, "missing", domain.TransactionFilter{})
	assert.True(t, errors.IsNotFound(err))

	_, err = f.svc.CustomerHistory(ctx, "missing", domain.TransactionFilter{}, 1, 10)
	assert.True(t, errors.IsNotFound(err))

	bogus := domain.TransactionType("gift")
	_, err = f.svc.GetCustomerTransactions(ctx, "cust-1", domain.TransactionFilter{Type: &bogus})
	assert.True(t, errors.IsValidation(err))

	later, earlier := epoch.Add(time.Hour), epoch
	_, err = f.svc.CountTransactions(ctx, "cust-1", domain.TransactionFilter{StartDate: &later, EndDate: &earlier})
	assert.True(t, errors.IsValidation(err))
}

func TestEarnForPurchase(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()

	ppd := 10.0
	_, err := f.settings.UpdateSettings(ctx, domain.SettingsPatch{PointsPerDollar: &ppd}, "admin-1")
	require.NoError(t, err)
	_, _, err = f.svc.AdjustPoints(ctx, "cust-1", 5000, "opening balance", "admin-1")
	require.NoError(t, err)

	res, err := f.svc.EarnForPurchase(ctx, EarnRequest{CustomerID: "cust-1", Amount: 100, TransactionID: "sale-9"})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), res.Transaction.Points)
	assert.Equal(t, int64(6200), res.Customer.LoyaltyPoints)
	assert.Equal(t, domain.StatusGold, res.Customer.Status)
	assert.Equal(t, "gold", res.Transaction.Metadata["statusTier"])
	assert.Equal(t, 100.0, res.Transaction.Metadata["purchaseAmount"])

	_, err = f.svc.EarnForPurchase(ctx, EarnRequest{CustomerID: "cust-1", Amount: 0.05, TransactionID: "sale-10"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 2, f.entries(t, "cust-1"))

	_, err = f.svc.EarnForPurchase(ctx, EarnRequest{CustomerID: "cust-1", Amount: 10})
	assert.True(t, errors.IsValidation(err))
}

func TestEarnForPurchaseRejectsOutOfRangeAmounts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e19, 1e25, MaxPurchaseAmount + 1} {
		_, err := f.svc.EarnForPurchase(ctx, EarnRequest{CustomerID: "cust-1", Amount: amount, TransactionID: "sale-1"})
		require.Error(t, err, "amount %v", amount)
		assert.True(t, errors.IsValidation(err), "amount %v: %v", amount, err)
	}
	assert.Equal(t, 0, f.entries(t, "cust-1"))

	res, err := f.svc.EarnForPurchase(ctx, EarnRequest{CustomerID: "cust-1", Amount: MaxPurchaseAmount, TransactionID: "sale-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(MaxPurchaseAmount), res.Transaction.Points)

	// A rate high enough to saturate the accrual must not wrap the balance.
	ppd := 1e12
	_, err = f.settings.UpdateSettings(ctx, domain.SettingsPatch{PointsPerDollar: &ppd}, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.EarnForPurchase(ctx, EarnRequest{CustomerID: "cust-1", Amount: MaxPurchaseAmount, TransactionID: "sale-3"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "%v", err)
	assert.Equal(t, int64(MaxPurchaseAmount), f.balance(t, "cust-1"))
	assert.Equal(t, 1, f.entries(t, "cust-1"))
}

func TestRedeemEnforcesLimits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()
	_, err := f.svc.RecordEarn(ctx, "cust-1", 300, "sale-1")
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, RedeemRequest{CustomerID: "cust-1", Points: 50, TransactionID: "sale-2"})
	assert.True(t, errors.IsValidation(err), "below minimum redemption: %v", err)

	res, err := f.svc.Redeem(ctx, RedeemRequest{CustomerID: "cust-1", Points: 200, TransactionID: "sale-2"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Value)
	assert.Equal(t, 2.0, res.Transaction.Value)
	assert.Equal(t, int64(100), res.Customer.LoyaltyPoints)

	_, err = f.svc.Redeem(ctx, RedeemRequest{CustomerID: "cust-1", Points: 150, TransactionID: "sale-3"})
	assert.True(t, errors.IsInsufficientBalance(err))

	maxValue, minPoints := 1.0, 500.0
	_, err = f.settings.UpdateSettings(ctx, domain.SettingsPatch{MaximumRedemptionValue: &maxValue}, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, RedeemRequest{CustomerID: "cust-1", Points: 100, TransactionID: "sale-4"})
	assert.NoError(t, err)

	_, _, err = f.svc.AdjustPoints(ctx, "cust-1", 400, "top up", "admin-1")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, RedeemRequest{CustomerID: "cust-1", Points: 200, TransactionID: "sale-5"})
	assert.True(t, errors.IsValidation(err), "above maximum value: %v", err)

	_, err = f.settings.UpdateSettings(ctx, domain.SettingsPatch{MinimumPoints: &minPoints}, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, RedeemRequest{CustomerID: "cust-1", Points: 100, TransactionID: "sale-6"})
	assert.True(t, errors.IsValidation(err), "below minimum points: %v", err)
	assert.Equal(t, int64(400), f.balance(t, "cust-1"))
}

func TestQuoteRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.svc.QuoteRedemption(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, 2.5, q.Value)
	assert.True(t, q.Allowed)

	q, err = f.svc.QuoteRedemption(ctx, 10)
	require.NoError(t, err)
	assert.False(t, q.Allowed)
	assert.NotEmpty(t, q.Reason)

	_, err = f.svc.QuoteRedemption(ctx, 0)
	assert.True(t, errors.IsValidation(err))
}

func TestCustomerSummaryStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "cust-1")
	ctx := context.Background()
	_, _, err := f.svc.AdjustPoints(ctx, "cust-1", 1500, "welcome", "admin-1")
	require.NoError(t, err)

	sum, err := f.svc.CustomerSummary(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSilver, sum.Status)
	assert.Equal(t, int64(1500), sum.LoyaltyPoints)

	_, err = f.svc.CustomerSummary(ctx, "nobody")
	assert.True(t, errors.IsNotFound(err))
}
