package policy

import (
	"context"
	"fmt"
	"time"

	"rewardcore/pkg/celengine"
	"rewardcore/pkg/errutil"
	"rewardcore/pkg/repository"
	"rewardcore/services/availability"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/usage"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	denials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardcore_policy_denials_total",
		Help: "Admission denials by rule.",
	}, []string{"rule"})
	faults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardcore_policy_faults_total",
		Help: "Rule evaluation errors by rule.",
	}, []string{"rule"})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{denials, faults}
}

// Decision is the outcome of an admission check. A denial is a value, not an
// error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

// Input is everything a rule may look at. Tx is the connection rules query
// on; on the write path it is the ledger's locked transaction.
type Input struct {
	Tx          *gorm.DB
	User        *model.User
	Plan        model.PlanType
	Platform    *model.Platform
	Amount      int64
	Now         time.Time
	PeriodStart time.Time
}

// Rule is one admission check. Check returns an empty reason to pass.
type Rule interface {
	Name() string
	Applies(p *model.Platform) bool
	Check(ctx context.Context, in *Input) (string, error)
}

// RuleError is a fault raised while evaluating a rule.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("policy rule %s: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

func (e *RuleError) Status() errutil.CoreStatus { return errutil.StatusInternal }

type Engine struct {
	db     *gorm.DB
	limits *limits.Store
	users  repository.Repository[model.User]
	rules  []Rule
	now    func() time.Time
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Limits   *limits.Store
	Resolver *availability.Resolver
	Programs *celengine.Cache
	Money    model.Money
}

func NewEngine(p Params) *Engine {
	h := history{}
	return &Engine{
		db:     p.DB,
		limits: p.Limits,
		users:  repository.ProvideStore[model.User](p.DB),
		rules: []Rule{
			platformEnabled{},
			categoryLimit{resolver: p.Resolver},
			platformLimit{history: h},
			earningCap{history: h, money: p.Money},
			cooldown{history: h},
			rotation{history: h},
			admissionExpr{history: h, programs: p.Programs},
		},
		now: time.Now,
	}
}

// WithClock replaces the engine's clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rules returns the ordered rule names.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// CanAct is the read path check: may the user be credited by platform now?
func (e *Engine) CanAct(ctx context.Context, userID, platformID int64) (Decision, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return Decision{}, errutil.Internal("failed to load user", err)
	}
	if user == nil {
		return Decision{}, errutil.NotFound("user not found", nil)
	}

	platform, err := e.limits.Platform(ctx, nil, platformID)
	if err != nil {
		return Decision{}, errutil.Internal("failed to load platform", err)
	}

	return e.Evaluate(ctx, &Input{
		Tx:       e.db,
		User:     user,
		Platform: platform,
	})
}

// Evaluate runs every applicable rule in order; the first denial wins. Any
// rule error fails closed and is returned as a *RuleError.
func (e *Engine) Evaluate(ctx context.Context, in *Input) (Decision, error) {
	if in.Tx == nil {
		in.Tx = e.db
	}
	if in.Now.IsZero() {
		in.Now = e.now().UTC()
	}
	if in.Plan == "" {
		in.Plan = availability.EffectivePlan(in.User, in.Now)
	}
	if in.PeriodStart.IsZero() {
		cfg, err := e.limits.Limits(ctx, in.Tx)
		if err != nil {
			return Decision{}, &RuleError{Rule: "limits", Err: err}
		}
		in.PeriodStart = usage.PeriodStart(in.Now, cfg.ResetHour)
	}

	log := logger(ctx).With(zap.Int64("user_id", in.User.ID))
	if in.Platform != nil {
		log = log.With(zap.Int64("platform_id", in.Platform.ID), zap.String("category", string(in.Platform.Category)))
	}

	for _, r := range e.rules {
		if !r.Applies(in.Platform) {
			continue
		}
		reason, err := r.Check(ctx, in)
		if err != nil {
			faults.WithLabelValues(r.Name()).Inc()
			log.Error("policy rule failed", zap.String("rule", r.Name()), zap.Error(err))
			return Decision{}, &RuleError{Rule: r.Name(), Err: err}
		}
		if reason != "" {
			denials.WithLabelValues(r.Name()).Inc()
			log.Info("admission denied", zap.String("rule", r.Name()), zap.String("reason", reason))
			return Decision{Allowed: false, Reason: reason, Rule: r.Name()}, nil
		}
	}

	return allow(), nil
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return zap.L()
	}
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
