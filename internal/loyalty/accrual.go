package loyalty

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
)

var (
	hundred   = decimal.NewFromInt(100)
	maxPoints = decimal.NewFromInt(math.MaxInt64)
)

// ComputeEarnedPoints returns the points a purchase earns. It is pure:
// identical inputs always produce the same result.
//
// The base is floor(amount * pointsPerDollar). The status multiplier, the
// category bonus, each promotion active at now (in list order) and finally
// the volume tier bonus are applied in turn to the running total, which is
// floored and clamped to [0, math.MaxInt64]. Disabled settings and
// non-finite amounts earn nothing.
func ComputeEarnedPoints(settings domain.Settings, purchaseAmount float64, tier domain.StatusTier, categoryID string, promotions []domain.Promotion, now time.Time) int64 {
	if !settings.Enabled || !(purchaseAmount > 0) || math.IsInf(purchaseAmount, 1) {
		return 0
	}
	amount := decimal.NewFromFloat(purchaseAmount)

	total := amount.Mul(decimal.NewFromFloat(settings.PointsPerDollar)).Floor()
	total = total.Mul(decimal.NewFromFloat(settings.StatusMultipliers.For(tier)))

	if categoryID != "" {
		if bonus, ok := settings.CategoryBonuses[categoryID]; ok {
			total = applyRule(total, bonus.Type, bonus.Value)
		}
	}

	for _, p := range promotions {
		if p.ActiveAt(now) {
			total = applyRule(total, p.Type, p.Value)
		}
	}

	if vt, ok := volumeTierFor(settings.Tiers, purchaseAmount); ok {
		switch vt.BonusType {
		case domain.BonusPercentage:
			factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(vt.BonusValue).Div(hundred))
			total = total.Mul(factor)
		case domain.BonusFixed:
			total = total.Add(decimal.NewFromFloat(vt.BonusValue))
		}
	}

	total = total.Floor()
	switch {
	case total.IsNegative():
		return 0
	case total.GreaterThan(maxPoints):
		return math.MaxInt64
	}
	return total.IntPart()
}

func applyRule(total decimal.Decimal, rule domain.RuleType, value float64) decimal.Decimal {
	switch rule {
	case domain.RuleMultiplier:
		return total.Mul(decimal.NewFromFloat(value))
	case domain.RuleFixed:
		return total.Add(decimal.NewFromFloat(value))
	}
	return total
}

// volumeTierFor returns the tier with the highest threshold not exceeding
// amount. Tiers need not be sorted.
func volumeTierFor(tiers []domain.VolumeTier, amount float64) (domain.VolumeTier, bool) {
	var (
		best  domain.VolumeTier
		found bool
	)
	for _, t := range tiers {
		if t.Threshold > amount {
			continue
		}
		if !found || t.Threshold > best.Threshold {
			best = t
			found = true
		}
	}
	return best, found
}

// StatusFor returns the highest status whose threshold the balance reaches.
// A zero threshold disables that status, so a programme can run with fewer
// than three tiers.
func StatusFor(settings domain.Settings, points int64) domain.StatusTier {
	t := settings.StatusTiers
	switch {
	case t.Platinum > 0 && points >= t.Platinum:
		return domain.StatusPlatinum
	case t.Gold > 0 && points >= t.Gold:
		return domain.StatusGold
	case t.Silver > 0 && points >= t.Silver:
		return domain.StatusSilver
	}
	return domain.StatusStandard
}

// ActivePromotions returns the promotions in effect at now, in list order.
func ActivePromotions(settings domain.Settings, now time.Time) []domain.Promotion {
	out := make([]domain.Promotion, 0, len(settings.Promotions))
	for _, p := range settings.Promotions {
		if p.ActiveAt(now) {
			out = append(out, p)
		}
	}
	return out
}

// RedemptionValue converts points to money at the configured rate, rounded
// to cents.
func RedemptionValue(settings domain.Settings, points int64) float64 {
	v := decimal.NewFromInt(points).Mul(decimal.NewFromFloat(settings.RedemptionRate)).Round(2)
	f, _ := v.Float64()
	return f
}
