package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"rewardcore/pkg/celengine"
	"rewardcore/pkg/config"
	"rewardcore/pkg/errutil"
	"rewardcore/services/availability"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*gorm.DB, *Engine) {
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

	clock := func() time.Time { return fixedNow }
	resolver := availability.NewResolver(availability.Params{DB: db, Limits: store}).WithClock(clock)

	programs, err := celengine.NewCache(time.Minute)
	require.NoError(t, err)

	money, err := model.NewMoney(500, "2")
	require.NoError(t, err)

	engine := NewEngine(Params{
		DB:       db,
		Limits:   store,
		Resolver: resolver,
		Programs: programs,
		Money:    money,
	}).WithClock(clock)
	return db, engine
}

var creditSeq int64

func credit(t *testing.T, db *gorm.DB, userID int64, p *model.Platform, coins int64, at time.Time) {
	t.Helper()
	creditSeq++
	pid := p.ID
	require.NoError(t, db.Create(&model.RewardCredit{
		ID:          creditSeq,
		UserID:      userID,
		Category:    p.Category,
		PlatformID:  &pid,
		UserEarning: decimal.NewFromInt(coins).Div(decimal.NewFromInt(500)),
		Coins:       coins,
		CreatedAt:   at,
	}).Error)
}

func TestRuleOrder(t *testing.T) {
	_, e := newEngine(t)
	require.Equal(t, []string{
		RulePlatformEnabled,
		RuleCategoryLimit,
		RulePlatformLimit,
		RuleEarningCap,
		RuleCooldown,
		RuleRotation,
		RuleAdmissionExpr,
	}, e.Rules())
}

func TestCanActPlatformMissingOrDisabled(t *testing.T) {
	db, e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{Name: "Off", Category: model.CategoryAds, Status: model.PlatformDisabled}
	require.NoError(t, db.Create(p).Error)

	d, err := e.CanAct(ctx, 1, 999)
	require.NoError(t, err)
	require.Equal(t, Decision{Allowed: false, Reason: ReasonPlatformDisabled, Rule: RulePlatformEnabled}, d)

	d, err = e.CanAct(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, Decision{Allowed: false, Reason: ReasonPlatformDisabled, Rule: RulePlatformEnabled}, d)

	_, err = e.CanAct(ctx, 0, p.ID)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	d, err = e.CanAct(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Equal(t, Decision{Allowed: false, Reason: ReasonPlatformDisabled, Rule: RulePlatformEnabled}, d)
}

func TestCanActCategoryLimit(t *testing.T) {
	db, e := newEngine(t)
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{Name: "Survey Co", Category: model.CategorySurveys}
	require.NoError(t, db.Create(p).Error)

	credit(t, db, 1, p, 10, fixedNow.Add(-2*time.Hour))
	credit(t, db, 1, p, 10, fixedNow.Add(-time.Hour))

	d, err := e.CanAct(context.Background(), 1, p.ID)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, RuleCategoryLimit, d.Rule)
	require.Equal(t, ReasonCategoryLimit, d.Reason)
}

func TestEvaluateCategoryLimitFollowsInputClock(t *testing.T) {
	db, e := newEngine(t)
	user := &model.User{ID: 1}
	require.NoError(t, db.Create(user).Error)
	p := &model.Platform{Name: "Survey Co", Category: model.CategorySurveys}
	require.NoError(t, db.Create(p).Error)

	credit(t, db, 1, p, 10, fixedNow.Add(-2*time.Hour))
	credit(t, db, 1, p, 10, fixedNow.Add(-time.Hour))

	nextDay := time.Date(2026, 6, 2, 0, 5, 0, 0, time.UTC)
	d, err := e.Evaluate(context.Background(), &Input{
		Tx:       db,
		User:     user,
		Platform: p,
		Amount:   10,
		Now:      nextDay,
	})
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestHighRiskTaskPlatformLimit(t *testing.T) {
	db, e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&model.User{ID: 1, PlanType: model.PlanPro}).Error)
	p := &model.Platform{
		Name:      "RiskyWall",
		Category:  model.CategoryTasks,
		RiskLevel: model.RiskHigh,
		Config:    datatypes.NewJSONType(model.PlatformConfig{PaidLimit: 10}),
	}
	require.NoError(t, db.Create(p).Error)
	require.Equal(t, 5, EffectiveLimit(p, model.PlanPro))

	for i := 0; i < 5; i++ {
		d, err := e.CanAct(ctx, 1, p.ID)
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
		credit(t, db, 1, p, 10, fixedNow.Add(-time.Duration(10-i)*time.Minute))
	}

	d, err := e.CanAct(ctx, 1, p.ID)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, RulePlatformLimit, d.Rule)
}

func TestEffectiveLimit(t *testing.T) {
	mk := func(c model.Category, r model.RiskLevel, cfg model.PlatformConfig) *model.Platform {
		return &model.Platform{Category: c, RiskLevel: r, Config: datatypes.NewJSONType(cfg)}
	}
	require.Equal(t, 8, EffectiveLimit(mk(model.CategoryTasks, model.RiskMedium, model.PlatformConfig{FreeLimit: 10}), model.PlanFree))
	require.Equal(t, 10, EffectiveLimit(mk(model.CategoryAds, model.RiskCritical, model.PlatformConfig{FreeLimit: 10}), model.PlanFree))
	require.Equal(t, 3, EffectiveLimit(mk(model.CategoryTasks, model.RiskLow, model.PlatformConfig{FrequencyCap: 3}), model.PlanPro))
	require.Equal(t, 0, EffectiveLimit(mk(model.CategoryTasks, model.RiskHigh, model.PlatformConfig{}), model.PlanPro))
}

func TestEarningCap(t *testing.T) {
	db, e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{
		Name:     "CapAds",
		Category: model.CategoryAds,
		MaxEarn:  decimal.NewNullDecimal(decimal.RequireFromString("0.10")),
	}
	require.NoError(t, db.Create(p).Error)

	user := &model.User{ID: 1, PlanType: model.PlanFree, Status: model.UserActive}

	credit(t, db, 1, p, 40, fixedNow.Add(-time.Hour))

	// 40 + 10 stays within the 50 coin cap
	d, err := e.Evaluate(ctx, &Input{User: user, Platform: p, Amount: 10})
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = e.Evaluate(ctx, &Input{User: user, Platform: p, Amount: 11})
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, RuleEarningCap, d.Rule)

	credit(t, db, 1, p, 10, fixedNow.Add(-time.Minute))
	d, err = e.Evaluate(ctx, &Input{User: user, Platform: p})
	require.NoError(t, err)
	require.Equal(t, ReasonEarningCap, d.Reason)

	// yesterday's earnings do not count against max_earn
	require.NoError(t, db.Where("1 = 1").Delete(&model.RewardCredit{}).Error)
	credit(t, db, 1, p, 50, fixedNow.Add(-24*time.Hour))
	d, err = e.Evaluate(ctx, &Input{User: user, Platform: p, Amount: 10})
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestLifetimeUserCap(t *testing.T) {
	db, e := newEngine(t)
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{
		Name:        "Lifetime",
		Category:    model.CategoryAds,
		UserCapFree: decimal.NewNullDecimal(decimal.RequireFromString("0.20")),
	}
	require.NoError(t, db.Create(p).Error)

	credit(t, db, 1, p, 100, fixedNow.Add(-72*time.Hour))

	d, err := e.CanAct(context.Background(), 1, p.ID)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, RuleEarningCap, d.Rule)
}

func TestCooldown(t *testing.T) {
	db, e := newEngine(t)
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{Name: "SlowWall", Category: model.CategoryInstalls, CooldownHours: 24}
	require.NoError(t, db.Create(p).Error)

	credit(t, db, 1, p, 10, fixedNow.Add(-20*time.Hour-30*time.Minute))

	d, err := e.CanAct(context.Background(), 1, p.ID)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, RuleCooldown, d.Rule)
	require.Equal(t, "cooldown active (4h remaining)", d.Reason)
}

func TestCooldownIgnoredForAds(t *testing.T) {
	db, e := newEngine(t)
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{Name: "AdCool", Category: model.CategoryAds, CooldownHours: 24}
	require.NoError(t, db.Create(p).Error)
	credit(t, db, 1, p, 10, fixedNow.Add(-time.Minute))

	d, err := e.CanAct(context.Background(), 1, p.ID)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestRotation(t *testing.T) {
	db, e := newEngine(t)
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{Name: "Rotor", Category: model.CategoryTasks, RotationEnabled: true}
	require.NoError(t, db.Create(p).Error)

	d, err := e.CanAct(context.Background(), 1, p.ID)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	credit(t, db, 1, p, 10, fixedNow.Add(-time.Minute))

	d, err = e.CanAct(context.Background(), 1, p.ID)
	require.NoError(t, err)
	require.Equal(t, Decision{Allowed: false, Reason: ReasonRotation, Rule: RuleRotation}, d)
}

func TestAdmissionExpr(t *testing.T) {
	db, e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	require.NoError(t, db.Create(&model.User{ID: 2, PlanType: model.PlanPro}).Error)
	p := &model.Platform{Name: "ProOnly", Category: model.CategoryAds, AdmissionExpr: `plan == "pro" && platform_today < 3`}
	require.NoError(t, db.Create(p).Error)

	d, err := e.CanAct(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonRuleRejected, d.Reason)

	d, err = e.CanAct(ctx, 2, p.ID)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestAdmissionExprFaultFailsClosed(t *testing.T) {
	db, e := newEngine(t)
	require.NoError(t, db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{Name: "Broken", Category: model.CategoryAds, AdmissionExpr: `plan +`}
	require.NoError(t, db.Create(p).Error)

	d, err := e.CanAct(context.Background(), 1, p.ID)
	require.Error(t, err)
	require.False(t, d.Allowed)

	var ruleErr *RuleError
	require.True(t, errors.As(err, &ruleErr))
	require.Equal(t, RuleAdmissionExpr, ruleErr.Rule)
}

func TestCanActUnknownUser(t *testing.T) {
	_, e := newEngine(t)
	_, err := e.CanAct(context.Background(), 77, 1)
	require.Error(t, err)
}
