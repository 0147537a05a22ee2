package availability

import (
	"context"
	"testing"
	"time"

	"rewardcore/pkg/config"
	"rewardcore/pkg/errutil"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*gorm.DB, *Resolver) {
	t.Helper()
	db := testutil.NewTestDB(t, model.All()...)

	cfg := &config.Config{}
	cfg.Reward.Defaults = config.Limits{
		AdsFree: 10, AdsPaid: 50,
		TasksFree: 8, TasksPaid: 8,
		SurveysFree: 2, SurveysPaid: 10,
		InstallsFree: 5, InstallsPaid: 20,
		DailyEarnCapFree: "2.00",
		DailyEarnCapPaid: "20.00",
	}
	store, err := limits.NewStore(limits.Params{DB: db, Config: cfg})
	require.NoError(t, err)

	r := NewResolver(Params{DB: db, Limits: store}).WithClock(func() time.Time { return fixedNow })
	return db, r
}

func seedCredits(t *testing.T, db *gorm.DB, userID int64, c model.Category, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&model.RewardCredit{
			ID:          at.UnixNano() + int64(i),
			UserID:      userID,
			Category:    c,
			UserEarning: decimal.RequireFromString("0.01"),
			Coins:       5,
			CreatedAt:   at,
		}).Error)
	}
}

func TestResolveCategoryLimitReached(t *testing.T) {
	db, r := setup(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	require.NoError(t, db.Create(&model.Platform{Name: "AdNet", Category: model.CategoryAds, Priority: 1}).Error)

	prev := 10
	for i := 0; i < 10; i++ {
		a, err := r.Resolve(ctx, 1, model.CategoryAds)
		require.NoError(t, err)
		require.Equal(t, 10, a.DailyLimit)
		require.Equal(t, i, a.CompletedToday)
		require.Equal(t, 10-i, a.RemainingToday)
		require.LessOrEqual(t, a.RemainingToday, prev)
		require.True(t, a.CanAct)
		prev = a.RemainingToday

		seedCredits(t, db, 1, model.CategoryAds, 1, fixedNow.Add(-time.Duration(i+1)*time.Minute))
	}

	a, err := r.Resolve(ctx, 1, model.CategoryAds)
	require.NoError(t, err)
	require.Equal(t, 0, a.RemainingToday)
	require.True(t, a.LimitReached)
	require.False(t, a.CanAct)
	require.Equal(t, ReasonLimitReached, a.Reason)
}

func TestResolveIgnoresPreviousPeriod(t *testing.T) {
	db, r := setup(t)
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	require.NoError(t, db.Create(&model.Platform{Name: "Survey Co", Category: model.CategorySurveys}).Error)

	seedCredits(t, db, 1, model.CategorySurveys, 2, fixedNow.Add(-24*time.Hour))

	a, err := r.Resolve(context.Background(), 1, model.CategorySurveys)
	require.NoError(t, err)
	require.Equal(t, 0, a.CompletedToday)
	require.Equal(t, 2, a.RemainingToday)
	require.True(t, a.CanAct)
}

func TestResolveTxUsesCallerClock(t *testing.T) {
	db, r := setup(t)
	ctx := context.Background()
	user := &model.User{ID: 1}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Create(&model.Platform{Name: "Survey Co", Category: model.CategorySurveys}).Error)

	seedCredits(t, db, 1, model.CategorySurveys, 2, fixedNow.Add(-time.Minute))

	a, err := r.ResolveTx(ctx, db, user, model.CategorySurveys, fixedNow)
	require.NoError(t, err)
	require.Equal(t, 2, a.CompletedToday)
	require.False(t, a.CanAct)

	// the resolver clock still reads fixedNow, but the caller is already past
	// the next reset
	nextDay := time.Date(2026, 6, 2, 0, 30, 0, 0, time.UTC)
	a, err = r.ResolveTx(ctx, db, user, model.CategorySurveys, nextDay)
	require.NoError(t, err)
	require.Equal(t, 0, a.CompletedToday)
	require.True(t, a.CanAct)
}

func TestResolveReasonPrecedence(t *testing.T) {
	db, r := setup(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.User{ID: 1, Status: model.UserSuspended}).Error)
	require.NoError(t, db.Create(&model.User{ID: 2}).Error)

	seedCredits(t, db, 1, model.CategorySurveys, 2, fixedNow.Add(-time.Minute))

	// suspended wins over both limit and missing providers
	a, err := r.Resolve(ctx, 1, model.CategorySurveys)
	require.NoError(t, err)
	require.False(t, a.CanAct)
	require.Equal(t, ReasonAccountSuspended, a.Reason)

	a, err = r.Resolve(ctx, 2, model.CategoryInstalls)
	require.NoError(t, err)
	require.False(t, a.HasEnabledProvider)
	require.Equal(t, ReasonNoProviders, a.Reason)
}

func TestResolveExpiredProTreatedAsFree(t *testing.T) {
	db, r := setup(t)
	expired := fixedNow.Add(-time.Hour)
	require.NoError(t, db.Create(&model.User{ID: 7, PlanType: model.PlanPro, PlanExpiry: &expired}).Error)
	require.NoError(t, db.Create(&model.Platform{Name: "AdNet", Category: model.CategoryAds}).Error)

	a, err := r.Resolve(context.Background(), 7, model.CategoryAds)
	require.NoError(t, err)
	require.Equal(t, 10, a.DailyLimit)

	var u model.User
	require.NoError(t, db.First(&u, 7).Error)
	require.Equal(t, model.PlanPro, u.PlanType)
}

func TestResolveErrors(t *testing.T) {
	_, r := setup(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, 404, model.CategoryAds)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	_, err = r.Resolve(ctx, 0, model.CategoryAds)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	_, err = r.Resolve(ctx, 1, model.Category("raffle"))
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestResolveAll(t *testing.T) {
	db, r := setup(t)
	require.NoError(t, db.Create(&model.User{ID: 1, PlanType: model.PlanPro}).Error)

	list, err := r.ResolveAll(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, len(model.Categories))
	require.Equal(t, 50, list[0].DailyLimit)
}
