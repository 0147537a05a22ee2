package limits

import (
	"context"
	"testing"

	"rewardcore/pkg/config"
	"rewardcore/services/model"
	"rewardcore/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Reward.CoinsPerUSD = 500
	cfg.Reward.Defaults = config.Limits{
		AdsFree: 10, AdsPaid: 50,
		TasksFree: 8, TasksPaid: 8,
		SurveysFree: 2, SurveysPaid: 10,
		InstallsFree: 5, InstallsPaid: 20,
		DailyEarnCapFree: "2.00",
		DailyEarnCapPaid: "20.00",
	}
	return cfg
}

func TestLimitsFallsBackToDefaultsWithoutWriting(t *testing.T) {
	db := testutil.NewTestDB(t, model.All()...)
	store, err := NewStore(Params{DB: db, Config: testConfig()})
	require.NoError(t, err)

	cfg, err := store.Limits(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.DailyLimit(model.CategoryAds, model.PlanFree))
	require.Equal(t, 50, cfg.DailyLimit(model.CategoryAds, model.PlanPro))
	require.True(t, cfg.DailyEarningCap(model.PlanFree).Equal(decimal.RequireFromString("2")))

	var rows int64
	require.NoError(t, db.Model(&model.LimitConfig{}).Count(&rows).Error)
	require.Zero(t, rows)
}

func TestSaveOverridesDefaults(t *testing.T) {
	db := testutil.NewTestDB(t, model.All()...)
	store, err := NewStore(Params{DB: db, Config: testConfig()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &model.LimitConfig{LimitAdsFree: 3, ResetHour: 4}))
	require.NoError(t, store.Save(ctx, &model.LimitConfig{LimitAdsFree: 4, ResetHour: 5}))

	cfg, err := store.Limits(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.LimitAdsFree)
	require.Equal(t, 5, cfg.ResetHour)

	var rows int64
	require.NoError(t, db.Model(&model.LimitConfig{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)

	require.Error(t, store.Save(ctx, &model.LimitConfig{ResetHour: 24}))
}

func TestEnabledPlatformsOrdering(t *testing.T) {
	db := testutil.NewTestDB(t, model.All()...)
	store, err := NewStore(Params{DB: db, Config: testConfig()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Platform{ID: 3, Name: "Gamma", Category: model.CategoryTasks, Priority: 1}).Error)
	require.NoError(t, db.Create(&model.Platform{ID: 1, Name: "Alpha", Category: model.CategoryTasks, Priority: 2}).Error)
	require.NoError(t, db.Create(&model.Platform{ID: 2, Name: "Beta", Category: model.CategoryTasks, Priority: 1}).Error)
	require.NoError(t, db.Create(&model.Platform{ID: 4, Name: "Delta", Category: model.CategoryTasks, Priority: 0, Status: model.PlatformDisabled}).Error)
	require.NoError(t, db.Create(&model.Platform{ID: 5, Name: "Epsilon", Category: model.CategoryAds, Priority: 0}).Error)

	list, err := store.EnabledPlatforms(ctx, nil, model.CategoryTasks)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []int64{2, 3, 1}, []int64{list[0].ID, list[1].ID, list[2].ID})

	ok, err := store.HasEnabledPlatform(ctx, nil, model.CategorySurveys)
	require.NoError(t, err)
	require.False(t, ok)

	p, err := store.PlatformBySlug(ctx, nil, "beta")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, int64(2), p.ID)

	missing, err := store.Platform(ctx, nil, 99)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestActiveOffers(t *testing.T) {
	db := testutil.NewTestDB(t, model.All()...)
	store, err := NewStore(Params{DB: db, Config: testConfig()})
	require.NoError(t, err)

	require.NoError(t, db.Create(&model.Offer{Title: "a", Provider: "Alpha", IsActive: true}).Error)
	require.NoError(t, db.Create(&model.Offer{Title: "b", Provider: "Alpha", IsActive: false}).Error)

	n, err := store.ActiveOffers(context.Background(), nil, "Alpha")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
