package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
)

func (s *Store) GetSettings(ctx context.Context) (loyalty.Settings, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, s.q(`SELECT document FROM loyalty_settings WHERE id = ?`), loyalty.SettingsID)
	if err != nil {
		return loyalty.Settings{}, notFound(err)
	}
	var out loyalty.Settings
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return loyalty.Settings{}, fmt.Errorf("sqlstore: decode settings: %w", err)
	}
	return out, nil
}

func (s *Store) EnsureSettings(ctx context.Context, defaults loyalty.Settings) (loyalty.Settings, error) {
	if defaults.UpdatedAt.IsZero() {
		defaults.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	doc, err := json.Marshal(defaults)
	if err != nil {
		return loyalty.Settings{}, fmt.Errorf("sqlstore: encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO loyalty_settings (id, document, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		loyalty.SettingsID, string(doc), defaults.UpdatedBy, s.timeArg(defaults.UpdatedAt))
	if err != nil {
		return loyalty.Settings{}, fmt.Errorf("sqlstore: ensure settings: %w", err)
	}
	return s.GetSettings(ctx)
}

func (s *Store) SaveSettings(ctx context.Context, settings loyalty.Settings) (loyalty.Settings, error) {
	doc, err := json.Marshal(settings)
	if err != nil {
		return loyalty.Settings{}, fmt.Errorf("sqlstore: encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO loyalty_settings (id, document, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			document = excluded.document,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`),
		loyalty.SettingsID, string(doc), settings.UpdatedBy, s.timeArg(settings.UpdatedAt))
	if err != nil {
		return loyalty.Settings{}, fmt.Errorf("sqlstore: save settings: %w", err)
	}
	return settings, nil
}
