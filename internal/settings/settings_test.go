package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	gormrepository "tradedesk/internal/repository/gorm"
	"tradedesk/internal/testutil"
)

func newService(t *testing.T) (*Service, repository.Repository) {
	t.Helper()
	store := gormrepository.New(testutil.NewDB(t))
	return &Service{Repo: store}, store
}

func TestEnsureDefaultsSeedsSwitches(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	require.NoError(t, svc.EnsureDefaults(ctx))

	for key, want := range DefaultSwitches() {
		require.Equal(t, want, svc.IsEnabled(ctx, key, !want), "switch %s", key)
	}

	// A second run leaves operator overrides alone.
	require.NoError(t, svc.SetEnabled(ctx, KeyKillSwitch, true))
	require.NoError(t, svc.EnsureDefaults(ctx))
	require.True(t, svc.IsEnabled(ctx, KeyKillSwitch, false))

	item, err := store.GetSystemSettingByKey(ctx, KeyKillSwitch)
	require.NoError(t, err)
	require.Equal(t, 1, item.Version)
}

func TestIsEnabledFallsBackForUnknownKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	require.True(t, svc.IsEnabled(ctx, "feature.does_not_exist", true))
	require.False(t, svc.IsEnabled(ctx, "feature.does_not_exist", false))
	require.True(t, svc.IsEnabled(ctx, "  ", true))
}

type brokenStore struct {
	repository.Repository
}

func (brokenStore) GetSystemSettingByKey(context.Context, string) (*models.SystemSetting, error) {
	return nil, errors.New("connection refused")
}

func TestKillSwitchEngagedFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	// No row yet: disengaged, no error.
	engaged, err := svc.KillSwitchEngaged(ctx)
	require.NoError(t, err)
	require.False(t, engaged)

	require.NoError(t, svc.SetEnabled(ctx, KeyKillSwitch, true))
	engaged, err = svc.KillSwitchEngaged(ctx)
	require.NoError(t, err)
	require.True(t, engaged)

	// A failed read reports engaged so the caller denies.
	svc.Repo = brokenStore{Repository: store}
	engaged, err = svc.KillSwitchEngaged(ctx)
	require.Error(t, err)
	require.True(t, engaged)
}

func TestSetEnabledRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	require.NoError(t, svc.SetEnabled(ctx, FeatureQuoteFeed, true))
	require.True(t, svc.IsEnabled(ctx, FeatureQuoteFeed, false))
	require.NoError(t, svc.SetEnabled(ctx, FeatureQuoteFeed, false))
	require.False(t, svc.IsEnabled(ctx, FeatureQuoteFeed, true))
}
