package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"rewardcore/pkg/celengine"
	"rewardcore/services/availability"
	"rewardcore/services/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	RulePlatformEnabled = "platform_enabled"
	RuleCategoryLimit   = "category_limit"
	RulePlatformLimit   = "platform_limit"
	RuleEarningCap      = "earning_cap"
	RuleCooldown        = "cooldown"
	RuleRotation        = "rotation"
	RuleAdmissionExpr   = "admission_expr"
)

const (
	ReasonPlatformDisabled = "platform disabled"
	ReasonCategoryLimit    = "category limit reached"
	ReasonPlatformLimit    = "platform limit reached"
	ReasonEarningCap       = "platform earning cap reached"
	ReasonRotation         = "rotation limit active"
	ReasonRuleRejected     = "platform rule rejected"
)

type platformEnabled struct{}

func (platformEnabled) Name() string                 { return RulePlatformEnabled }
func (platformEnabled) Applies(*model.Platform) bool { return true }

func (platformEnabled) Check(_ context.Context, in *Input) (string, error) {
	switch {
	case in.Platform == nil, !in.Platform.IsEnabled():
		return ReasonPlatformDisabled, nil
	}
	return "", nil
}

type categoryLimit struct {
	resolver *availability.Resolver
}

func (categoryLimit) Name() string                   { return RuleCategoryLimit }
func (categoryLimit) Applies(p *model.Platform) bool { return p != nil }

func (r categoryLimit) Check(ctx context.Context, in *Input) (string, error) {
	a, err := r.resolver.ResolveTx(ctx, in.Tx, in.User, in.Platform.Category, in.Now)
	if err != nil {
		return "", err
	}
	if a.RemainingToday == 0 {
		return ReasonCategoryLimit, nil
	}
	return "", nil
}

type platformLimit struct {
	history history
}

func (platformLimit) Name() string                   { return RulePlatformLimit }
func (platformLimit) Applies(p *model.Platform) bool { return p != nil }

// EffectiveLimit applies the risk multiplier to task platforms.
func EffectiveLimit(p *model.Platform, plan model.PlanType) int {
	limit := p.PlanLimit(plan)
	if limit <= 0 || p.Category != model.CategoryTasks {
		return limit
	}
	return int(p.RiskLevel.Multiplier().Mul(decimalInt(limit)).Floor().IntPart())
}

func (r platformLimit) Check(ctx context.Context, in *Input) (string, error) {
	if in.Platform.PlanLimit(in.Plan) <= 0 {
		return "", nil
	}
	effective := EffectiveLimit(in.Platform, in.Plan)

	n, err := r.history.count(ctx, in.Tx, in.User.ID, in.Platform.ID, &in.PeriodStart)
	if err != nil {
		return "", err
	}
	if n >= int64(effective) {
		return ReasonPlatformLimit, nil
	}
	return "", nil
}

type earningCap struct {
	history history
	money   model.Money
}

func (earningCap) Name() string { return RuleEarningCap }

func (earningCap) Applies(p *model.Platform) bool {
	return p != nil && (p.MaxEarn.Valid || p.UserCapFree.Valid || p.UserCapPaid.Valid)
}

func (r earningCap) Check(ctx context.Context, in *Input) (string, error) {
	if in.Platform.MaxEarn.Valid && in.Platform.MaxEarn.Decimal.IsPositive() {
		sum, err := r.history.sumCoins(ctx, in.Tx, in.User.ID, in.Platform.ID, &in.PeriodStart)
		if err != nil {
			return "", err
		}
		if capReached(sum, in.Amount, r.money.Coins(in.Platform.MaxEarn.Decimal)) {
			return ReasonEarningCap, nil
		}
	}

	userCap := in.Platform.UserCap(in.Plan)
	if userCap.Valid && userCap.Decimal.IsPositive() {
		sum, err := r.history.sumCoins(ctx, in.Tx, in.User.ID, in.Platform.ID, nil)
		if err != nil {
			return "", err
		}
		if capReached(sum, in.Amount, r.money.Coins(userCap.Decimal)) {
			return ReasonEarningCap, nil
		}
	}
	return "", nil
}

func capReached(sum, amount, limit int64) bool {
	if sum >= limit {
		return true
	}
	return amount > 0 && sum+amount > limit
}

type cooldown struct {
	history history
}

func (cooldown) Name() string { return RuleCooldown }

func (cooldown) Applies(p *model.Platform) bool {
	return p != nil && p.CooldownHours > 0 &&
		(p.Category == model.CategoryTasks || p.Category == model.CategoryInstalls)
}

func (r cooldown) Check(ctx context.Context, in *Input) (string, error) {
	last, err := r.history.last(ctx, in.Tx, in.User.ID, in.Platform.ID)
	if err != nil {
		return "", err
	}
	if last == nil {
		return "", nil
	}

	window := time.Duration(in.Platform.CooldownHours) * time.Hour
	elapsed := in.Now.Sub(last.CreatedAt)
	if elapsed >= window {
		return "", nil
	}
	remaining := int(math.Ceil((window - elapsed).Hours()))
	return fmt.Sprintf("cooldown active (%dh remaining)", remaining), nil
}

type rotation struct {
	history history
}

func (rotation) Name() string { return RuleRotation }

func (rotation) Applies(p *model.Platform) bool {
	return p != nil && p.RotationEnabled && p.Category == model.CategoryTasks
}

func (r rotation) Check(ctx context.Context, in *Input) (string, error) {
	n, err := r.history.count(ctx, in.Tx, in.User.ID, in.Platform.ID, &in.PeriodStart)
	if err != nil {
		return "", err
	}
	if n >= 1 {
		return ReasonRotation, nil
	}
	return "", nil
}

type admissionExpr struct {
	history  history
	programs *celengine.Cache
}

func (admissionExpr) Name() string { return RuleAdmissionExpr }

func (admissionExpr) Applies(p *model.Platform) bool {
	return p != nil && p.AdmissionExpr != ""
}

func (r admissionExpr) Check(ctx context.Context, in *Input) (string, error) {
	completed, err := r.history.countCategory(ctx, in.Tx, in.User.ID, in.Platform.Category, in.PeriodStart)
	if err != nil {
		return "", err
	}
	platformToday, err := r.history.count(ctx, in.Tx, in.User.ID, in.Platform.ID, &in.PeriodStart)
	if err != nil {
		return "", err
	}
	earnings, err := r.history.sumCoins(ctx, in.Tx, in.User.ID, 0, &in.PeriodStart)
	if err != nil {
		return "", err
	}

	ok, err := r.programs.Evaluate(in.Platform.AdmissionExpr, map[string]any{
		celengine.VarPlan:           string(in.Plan),
		celengine.VarCategory:       string(in.Platform.Category),
		celengine.VarUserStatus:     string(in.User.Status),
		celengine.VarCompletedToday: completed,
		celengine.VarPlatformToday:  platformToday,
		celengine.VarEarningsToday:  earnings,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return ReasonRuleRejected, nil
	}
	return "", nil
}

// history answers questions about a user's past RewardCredit rows. All
// lookups go through platform_id and are bounded by period start when given.
type history struct{}

func (history) scope(tx *gorm.DB, userID, platformID int64, since *time.Time) *gorm.DB {
	q := tx.Model(&model.RewardCredit{}).Where("user_id = ?", userID)
	if platformID != 0 {
		q = q.Where("platform_id = ?", platformID)
	}
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	return q
}

func (h history) count(ctx context.Context, tx *gorm.DB, userID, platformID int64, since *time.Time) (int64, error) {
	var n int64
	err := h.scope(tx.WithContext(ctx), userID, platformID, since).Count(&n).Error
	return n, err
}

func (h history) countCategory(ctx context.Context, tx *gorm.DB, userID int64, c model.Category, since time.Time) (int64, error) {
	var n int64
	err := h.scope(tx.WithContext(ctx), userID, 0, &since).Where("category = ?", c).Count(&n).Error
	return n, err
}

func (h history) sumCoins(ctx context.Context, tx *gorm.DB, userID, platformID int64, since *time.Time) (int64, error) {
	var total int64
	err := h.scope(tx.WithContext(ctx), userID, platformID, since).
		Select("COALESCE(SUM(coins), 0)").
		Scan(&total).Error
	return total, err
}

func (h history) last(ctx context.Context, tx *gorm.DB, userID, platformID int64) (*model.RewardCredit, error) {
	var rows []model.RewardCredit
	err := h.scope(tx.WithContext(ctx), userID, platformID, nil).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func decimalInt(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }
