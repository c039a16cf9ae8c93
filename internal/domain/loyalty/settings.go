// Package loyalty holds the loyalty-points entities shared by the service,
// storage and HTTP layers.
package loyalty

import "time"

// SettingsID is the key of the singleton settings record.
const SettingsID = "default"

// StatusTier classifies a customer for multiplier purposes.
type StatusTier string

const (
	StatusStandard StatusTier = "standard"
	StatusSilver   StatusTier = "silver"
	StatusGold     StatusTier = "gold"
	StatusPlatinum StatusTier = "platinum"
)

// Valid reports whether the tier is one of the known statuses.
func (s StatusTier) Valid() bool {
	switch s {
	case StatusStandard, StatusSilver, StatusGold, StatusPlatinum:
		return true
	}
	return false
}

// BonusType describes how a volume tier bonus is applied.
type BonusType string

const (
	BonusFixed      BonusType = "fixed"
	BonusPercentage BonusType = "percentage"
)

// RuleType describes how a category bonus or promotion is applied.
type RuleType string

const (
	RuleMultiplier RuleType = "multiplier"
	RuleFixed      RuleType = "fixed"
)

// StatusThresholds are the balance thresholds for each non-standard status.
// A zero threshold disables that status.
type StatusThresholds struct {
	Silver   int64 `json:"silver" yaml:"silver"`
	Gold     int64 `json:"gold" yaml:"gold"`
	Platinum int64 `json:"platinum" yaml:"platinum"`
}

// StatusMultipliers are the accrual factors per status.
type StatusMultipliers struct {
	Standard float64 `json:"standard" yaml:"standard"`
	Silver   float64 `json:"silver" yaml:"silver"`
	Gold     float64 `json:"gold" yaml:"gold"`
	Platinum float64 `json:"platinum" yaml:"platinum"`
}

// For returns the multiplier configured for tier. Unknown tiers use the
// standard multiplier.
func (m StatusMultipliers) For(tier StatusTier) float64 {
	switch tier {
	case StatusSilver:
		return m.Silver
	case StatusGold:
		return m.Gold
	case StatusPlatinum:
		return m.Platinum
	default:
		return m.Standard
	}
}

// VolumeTier grants a bonus when a purchase reaches Threshold.
type VolumeTier struct {
	Threshold  float64   `json:"threshold"`
	BonusType  BonusType `json:"bonusType"`
	BonusValue float64   `json:"bonusValue"`
}

// CategoryBonus is applied to purchases in a category.
type CategoryBonus struct {
	Type  RuleType `json:"type"`
	Value float64  `json:"value"`
}

// Promotion is a time-bounded bonus rule.
type Promotion struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Type      RuleType  `json:"type"`
	Value     float64   `json:"value"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// ActiveAt reports whether the promotion applies at t. Both bounds are
// inclusive.
func (p Promotion) ActiveAt(t time.Time) bool {
	if !p.Active {
		return false
	}
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}

// Settings is the loyalty programme configuration.
type Settings struct {
	Enabled                bool                     `json:"enabled"`
	PointsPerDollar        float64                  `json:"pointsPerDollar"`
	RedemptionRate         float64                  `json:"redemptionRate"`
	MinimumPoints          float64                  `json:"minimumPoints"`
	MinimumRedemption      float64                  `json:"minimumRedemption"`
	MaximumRedemptionValue float64                  `json:"maximumRedemptionValue"`
	ExpirationPeriod       int                      `json:"expirationPeriod"`
	StatusTiers            StatusThresholds         `json:"statusTiers"`
	StatusMultipliers      StatusMultipliers        `json:"statusMultipliers"`
	Tiers                  []VolumeTier             `json:"tiers"`
	CategoryBonuses        map[string]CategoryBonus `json:"categoryBonuses"`
	Promotions             []Promotion              `json:"promotions"`
	UpdatedBy              string                   `json:"updatedBy,omitempty"`
	UpdatedAt              time.Time                `json:"updatedAt"`
}

// DefaultSettings returns the configuration used when none has been stored.
func DefaultSettings() Settings {
	return Settings{
		Enabled:           true,
		PointsPerDollar:   1,
		RedemptionRate:    0.01,
		MinimumPoints:     0,
		MinimumRedemption: 100,
		ExpirationPeriod:  365,
		StatusTiers: StatusThresholds{
			Silver:   1000,
			Gold:     5000,
			Platinum: 10000,
		},
		StatusMultipliers: StatusMultipliers{
			Standard: 1,
			Silver:   1.1,
			Gold:     1.2,
			Platinum: 1.5,
		},
		Tiers:           []VolumeTier{},
		CategoryBonuses: map[string]CategoryBonus{},
		Promotions:      []Promotion{},
	}
}

// Clone returns a deep copy so callers can mutate the result freely.
func (s Settings) Clone() Settings {
	out := s
	out.Tiers = append([]VolumeTier{}, s.Tiers...)
	out.Promotions = append([]Promotion{}, s.Promotions...)
	out.CategoryBonuses = make(map[string]CategoryBonus, len(s.CategoryBonuses))
	for k, v := range s.CategoryBonuses {
		out.CategoryBonuses[k] = v
	}
	return out
}

// SettingsPatch carries a partial settings update. Nil fields are left as
// they are and nested status objects merge field by field. Slices and maps
// replace the stored value when non-nil.
type SettingsPatch struct {
	Enabled                *bool                    `json:"enabled,omitempty"`
	PointsPerDollar        *float64                 `json:"pointsPerDollar,omitempty"`
	RedemptionRate         *float64                 `json:"redemptionRate,omitempty"`
	MinimumPoints          *float64                 `json:"minimumPoints,omitempty"`
	MinimumRedemption      *float64                 `json:"minimumRedemption,omitempty"`
	MaximumRedemptionValue *float64                 `json:"maximumRedemptionValue,omitempty"`
	ExpirationPeriod       *int                     `json:"expirationPeriod,omitempty"`
	StatusTiers            *StatusThresholdsPatch   `json:"statusTiers,omitempty"`
	StatusMultipliers      *StatusMultipliersPatch  `json:"statusMultipliers,omitempty"`
	Tiers                  []VolumeTier             `json:"tiers,omitempty"`
	CategoryBonuses        map[string]CategoryBonus `json:"categoryBonuses,omitempty"`
	Promotions             []Promotion              `json:"promotions,omitempty"`
}

// StatusThresholdsPatch updates individual status thresholds.
type StatusThresholdsPatch struct {
	Silver   *int64 `json:"silver,omitempty"`
	Gold     *int64 `json:"gold,omitempty"`
	Platinum *int64 `json:"platinum,omitempty"`
}

func (p StatusThresholdsPatch) apply(t StatusThresholds) StatusThresholds {
	if p.Silver != nil {
		t.Silver = *p.Silver
	}
	if p.Gold != nil {
		t.Gold = *p.Gold
	}
	if p.Platinum != nil {
		t.Platinum = *p.Platinum
	}
	return t
}

// StatusMultipliersPatch updates individual status multipliers.
type StatusMultipliersPatch struct {
	Standard *float64 `json:"standard,omitempty"`
	Silver   *float64 `json:"silver,omitempty"`
	Gold     *float64 `json:"gold,omitempty"`
	Platinum *float64 `json:"platinum,omitempty"`
}

func (p StatusMultipliersPatch) apply(m StatusMultipliers) StatusMultipliers {
	if p.Standard != nil {
		m.Standard = *p.Standard
	}
	if p.Silver != nil {
		m.Silver = *p.Silver
	}
	if p.Gold != nil {
		m.Gold = *p.Gold
	}
	if p.Platinum != nil {
		m.Platinum = *p.Platinum
	}
	return m
}

// Apply merges the patch into s and returns the result. s is not modified.
func (p SettingsPatch) Apply(s Settings) Settings {
	out := s.Clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.PointsPerDollar != nil {
		out.PointsPerDollar = *p.PointsPerDollar
	}
	if p.RedemptionRate != nil {
		out.RedemptionRate = *p.RedemptionRate
	}
	if p.MinimumPoints != nil {
		out.MinimumPoints = *p.MinimumPoints
	}
	if p.MinimumRedemption != nil {
		out.MinimumRedemption = *p.MinimumRedemption
	}
	if p.MaximumRedemptionValue != nil {
		out.MaximumRedemptionValue = *p.MaximumRedemptionValue
	}
	if p.ExpirationPeriod != nil {
		out.ExpirationPeriod = *p.ExpirationPeriod
	}
	if p.StatusTiers != nil {
		out.StatusTiers = p.StatusTiers.apply(out.StatusTiers)
	}
	if p.StatusMultipliers != nil {
		out.StatusMultipliers = p.StatusMultipliers.apply(out.StatusMultipliers)
	}
	if p.Tiers != nil {
		out.Tiers = append([]VolumeTier{}, p.Tiers...)
	}
	if p.CategoryBonuses != nil {
		out.CategoryBonuses = make(map[string]CategoryBonus, len(p.CategoryBonuses))
		for k, v := range p.CategoryBonuses {
			out.CategoryBonuses[k] = v
		}
	}
	if p.Promotions != nil {
		out.Promotions = append([]Promotion{}, p.Promotions...)
	}
	return out
}
