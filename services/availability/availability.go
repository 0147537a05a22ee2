package availability

import (
	"context"
	"time"

	"rewardcore/pkg/errutil"
	"rewardcore/pkg/repository"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/usage"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReasonAccountSuspended = "account suspended"
	ReasonLimitReached     = "daily limit reached"
	ReasonNoProviders      = "no providers available"
	ReasonUnknown          = "unknown"
)

type Availability struct {
	Category           model.Category `json:"category"`
	DailyLimit         int            `json:"daily_limit"`
	CompletedToday     int            `json:"completed_today"`
	RemainingToday     int            `json:"remaining_today"`
	HasEnabledProvider bool           `json:"has_enabled_provider"`
	CanAct             bool           `json:"can_act"`
	LimitReached       bool           `json:"limit_reached"`
	Reason             string         `json:"reason,omitempty"`
}

type Resolver struct {
	db      *gorm.DB
	limits  *limits.Store
	users   repository.Repository[model.User]
	credits repository.Repository[model.RewardCredit]
	now     func() time.Time
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Limits *limits.Store
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:      p.DB,
		limits:  p.Limits,
		users:   repository.ProvideStore[model.User](p.DB),
		credits: repository.ProvideStore[model.RewardCredit](p.DB),
		now:     time.Now,
	}
}

// WithClock replaces the resolver's clock. Intended for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve loads the user and reports whether they can act in category now.
// It performs no writes.
func (r *Resolver) Resolve(ctx context.Context, userID int64, category model.Category) (*Availability, error) {
	if !category.Valid() {
		return nil, errutil.BadRequest("invalid category", nil)
	}
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		zap.L().Error("failed to load user", zap.Int64("user_id", userID), zap.Error(err))
		return nil, errutil.Internal("failed to load user", err)
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return r.ResolveTx(ctx, r.db, user, category, r.now())
}

// ResolveTx evaluates availability for an already loaded user on tx as of
// now. The write path passes its own clock reading so the period boundary
// matches the one it rolls the usage counters over on.
func (r *Resolver) ResolveTx(ctx context.Context, tx *gorm.DB, user *model.User, category model.Category, now time.Time) (*Availability, error) {
	now = now.UTC()

	cfg, err := r.limits.Limits(ctx, tx)
	if err != nil {
		return nil, err
	}

	plan := EffectivePlan(user, now)
	limit := cfg.DailyLimit(category, plan)

	completed, err := r.credits.WithTrx(tx).Count(ctx,
		&model.RewardCredit{UserID: user.ID, Category: category},
		func(db *gorm.DB) *gorm.DB {
			return db.Where("created_at >= ?", usage.PeriodStart(now, cfg.ResetHour))
		},
	)
	if err != nil {
		return nil, err
	}

	hasProvider, err := r.limits.HasEnabledPlatform(ctx, tx, category)
	if err != nil {
		return nil, err
	}

	remaining := limit - int(completed)
	if remaining < 0 {
		remaining = 0
	}

	a := &Availability{
		Category:           category,
		DailyLimit:         limit,
		CompletedToday:     int(completed),
		RemainingToday:     remaining,
		HasEnabledProvider: hasProvider,
		LimitReached:       remaining == 0,
	}
	a.CanAct = remaining > 0 && hasProvider && user.IsActive()

	if !a.CanAct {
		switch {
		case !user.IsActive():
			a.Reason = ReasonAccountSuspended
		case a.LimitReached:
			a.Reason = ReasonLimitReached
		case !hasProvider:
			a.Reason = ReasonNoProviders
		default:
			a.Reason = ReasonUnknown
		}
	}

	return a, nil
}

// ResolveAll evaluates every category for the user.
func (r *Resolver) ResolveAll(ctx context.Context, userID int64) ([]*Availability, error) {
	out := make([]*Availability, 0, len(model.Categories))
	for _, c := range model.Categories {
		a, err := r.Resolve(ctx, userID, c)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// EffectivePlan treats an expired pro plan as free without persisting the
// downgrade. The ledger performs the write under lock.
func EffectivePlan(user *model.User, now time.Time) model.PlanType {
	if user.PlanExpired(now) {
		return model.PlanFree
	}
	if user.PlanType == "" {
		return model.PlanFree
	}
	return user.PlanType
}
