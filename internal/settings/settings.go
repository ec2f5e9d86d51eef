// Package settings stores runtime switches in the database so every
// orchestrator instance observes the same value. The autonomy kill switch
// lives here and must be re-read on each decision, never cached.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"

	"tradedesk/internal/models"
	"tradedesk/internal/repository"
)

const (
	KeyKillSwitch           = "autonomy.kill_switch"
	FeatureAutonomousRunner = "feature.autonomous_runner"
	FeatureOutcomeRealizer  = "feature.outcome_realizer"
	FeatureQuoteFeed        = "feature.quote_feed"
)

func DefaultSwitches() map[string]bool {
	return map[string]bool{
		KeyKillSwitch:           false,
		FeatureAutonomousRunner: false,
		FeatureOutcomeRealizer:  true,
		FeatureQuoteFeed:        false,
	}
}

type Service struct {
	Repo repository.Repository
}

func (s *Service) EnsureDefaults(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	for key, enabled := range DefaultSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "runtime switch",
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

// KillSwitchEngaged reads the kill switch without masking store errors. When
// the read fails the switch reports engaged, so callers deny rather than
// proceed on a value they could not confirm.
func (s *Service) KillSwitchEngaged(ctx context.Context) (bool, error) {
	if s == nil || s.Repo == nil {
		return true, errors.New("settings store unavailable")
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, KeyKillSwitch)
	if err != nil {
		return true, err
	}
	if item == nil || len(item.Value) == 0 {
		return false, nil
	}
	var engaged bool
	if err := json.Unmarshal(item.Value, &engaged); err != nil {
		return true, err
	}
	return engaged, nil
}

func (s *Service) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "runtime switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}
