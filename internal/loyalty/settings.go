package loyalty

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/cache"
	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/metrics"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

// SettingsService serves the singleton settings through a read-through
// cache.
type SettingsService struct {
	store   storage.SettingsStore
	cache   cache.SettingsCache
	log     *logging.Logger
	timeout time.Duration
	now     func() time.Time

	// updates serializes read-merge-write of patches within the process.
	updates sync.Mutex
}

// NewSettingsService creates a settings service. A nil cache disables
// caching and a non-positive timeout uses DefaultStorageTimeout.
func NewSettingsService(store storage.SettingsStore, c cache.SettingsCache, log *logging.Logger, timeout time.Duration) *SettingsService {
	if c == nil {
		c = cache.Nop{}
	}
	if log == nil {
		log = logging.NewDefault("loyalty-settings")
	}
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &SettingsService{store: store, cache: c, log: log, timeout: timeout, now: time.Now}
}

// GetSettings returns the current settings, creating and persisting the
// defaults on first access.
func (s *SettingsService) GetSettings(ctx context.Context) (domain.Settings, error) {
	cached, ok, err := s.cache.Get(ctx)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("settings cache read failed")
	}
	if ok {
		metrics.RecordSettingsCache(true)
		return cached, nil
	}
	metrics.RecordSettingsCache(false)

	settings, err := s.load(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := s.cache.Set(ctx, settings); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("settings cache write failed")
	}
	return settings, nil
}

func (s *SettingsService) load(ctx context.Context) (domain.Settings, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	settings, err := s.store.GetSettings(opCtx)
	if errors.Is(err, storage.ErrNotFound) {
		defaults := domain.DefaultSettings()
		defaults.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		settings, err = s.store.EnsureSettings(opCtx, defaults)
		if err == nil {
			s.log.WithContext(ctx).Info("loyalty settings initialised with defaults")
		}
	}
	if err != nil {
		return domain.Settings{}, storageError(opCtx, "load loyalty settings", err)
	}
	return settings, nil
}

// UpdateSettings merges patch into the stored settings, validates the
// result and persists it. The cache is invalidated so the next read sees the
// new state.
func (s *SettingsService) UpdateSettings(ctx context.Context, patch domain.SettingsPatch, updatedBy string) (domain.Settings, error) {
	s.updates.Lock()
	defer s.updates.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return domain.Settings{}, err
	}

	next := patch.Apply(current)
	if err := ValidateSettings(next); err != nil {
		return domain.Settings{}, err
	}
	next.UpdatedBy = updatedBy
	next.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	saved, err := s.store.SaveSettings(opCtx, next)
	if err != nil {
		return domain.Settings{}, storageError(opCtx, "save loyalty settings", err)
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("settings cache invalidation failed")
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"updated_by": updatedBy,
	}).Info("loyalty settings updated")
	return saved, nil
}

// ValidateSettings checks every numeric field is a finite non-negative
// number and every enumerated field holds a known value.
func ValidateSettings(s domain.Settings) error {
	checks := []struct {
		field string
		value float64
	}{
		{"pointsPerDollar", s.PointsPerDollar},
		{"redemptionRate", s.RedemptionRate},
		{"minimumPoints", s.MinimumPoints},
		{"minimumRedemption", s.MinimumRedemption},
		{"maximumRedemptionValue", s.MaximumRedemptionValue},
		{"expirationPeriod", float64(s.ExpirationPeriod)},
		{"statusTiers.silver", float64(s.StatusTiers.Silver)},
		{"statusTiers.gold", float64(s.StatusTiers.Gold)},
		{"statusTiers.platinum", float64(s.StatusTiers.Platinum)},
		{"statusMultipliers.standard", s.StatusMultipliers.Standard},
		{"statusMultipliers.silver", s.StatusMultipliers.Silver},
		{"statusMultipliers.gold", s.StatusMultipliers.Gold},
		{"statusMultipliers.platinum", s.StatusMultipliers.Platinum},
	}
	for _, c := range checks {
		if err := nonNegative(c.field, c.value); err != nil {
			return err
		}
	}

	for i, t := range s.Tiers {
		if err := nonNegative(fmt.Sprintf("tiers[%d].threshold", i), t.Threshold); err != nil {
			return err
		}
		if err := nonNegative(fmt.Sprintf("tiers[%d].bonusValue", i), t.BonusValue); err != nil {
			return err
		}
		if t.BonusType != domain.BonusFixed && t.BonusType != domain.BonusPercentage {
			return errors.Validationf("tiers[%d].bonusType must be one of fixed, percentage", i)
		}
	}

	categories := make([]string, 0, len(s.CategoryBonuses))
	for id := range s.CategoryBonuses {
		categories = append(categories, id)
	}
	sort.Strings(categories)
	for _, id := range categories {
		b := s.CategoryBonuses[id]
		if err := nonNegative(fmt.Sprintf("categoryBonuses.%s.value", id), b.Value); err != nil {
			return err
		}
		if b.Type != domain.RuleMultiplier && b.Type != domain.RuleFixed {
			return errors.Validationf("categoryBonuses.%s.type must be one of multiplier, fixed", id)
		}
	}

	for i, p := range s.Promotions {
		if err := nonNegative(fmt.Sprintf("promotions[%d].value", i), p.Value); err != nil {
			return err
		}
		if p.Type != domain.RuleMultiplier && p.Type != domain.RuleFixed {
			return errors.Validationf("promotions[%d].type must be one of multiplier, fixed", i)
		}
		if p.EndDate.Before(p.StartDate) {
			return errors.Validationf("promotions[%d].endDate must not be before startDate", i)
		}
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Validationf("%s must be a finite number", field)
	}
	if v < 0 {
		return errors.Validationf("%s must be greater than or equal to 0", field)
	}
	return nil
}
