package httpapi

import (
	"errors"
	"time"

	"rewardcore/pkg/celengine"
	"rewardcore/pkg/config"
	"rewardcore/pkg/health"
	"rewardcore/pkg/middleware"
	"rewardcore/services/availability"
	"rewardcore/services/fallback"
	"rewardcore/services/ledger"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/policy"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

type Handler struct {
	resolver *availability.Resolver
	policy   *policy.Engine
	selector *fallback.Selector
	ledger   *ledger.Service
	limits   *limits.Store
	money    model.Money

	defaultPayout decimal.Decimal
}

type Params struct {
	fx.In
	Config   *config.Config
	Resolver *availability.Resolver
	Policy   *policy.Engine
	Selector *fallback.Selector
	Ledger   *ledger.Service
	Limits   *limits.Store
	Money    model.Money
}

func NewHandler(p Params) (*Handler, error) {
	payout, err := decimal.NewFromString(p.Config.Reward.PostbackDefaultPayout)
	if err != nil {
		return nil, err
	}
	return &Handler{
		resolver:      p.Resolver,
		policy:        p.Policy,
		selector:      p.Selector,
		ledger:        p.Ledger,
		limits:        p.Limits,
		money:         p.Money,
		defaultPayout: payout,
	}, nil
}

type RegisterParams struct {
	fx.In
	Router     *gin.Engine
	Config     *config.Config
	Handler    *Handler
	Health     health.HealthService
	Redis      *redis.Client         `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
	Gatherer   prometheus.Gatherer   `optional:"true"`
}

func Register(p RegisterParams) error {
	reg, gatherer := p.Registerer, p.Gatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if err := RegisterCollectors(reg); err != nil {
		return err
	}

	var throttle *middleware.Throttle
	if p.Config.Throttle.Enable && p.Redis != nil {
		throttle = middleware.NewThrottle(p.Redis)
	}
	limit, window := p.Config.Throttle.Limit, p.Config.Throttle.Window
	if window <= 0 {
		window = time.Minute
	}

	r := p.Router
	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1", middleware.Error())
	{
		h := p.Handler
		v1.GET("/users/:id/availability", h.Availability)
		v1.GET("/users/:id/platforms/:pid/admission", h.Admission)
		v1.GET("/users/:id/provider", h.Provider)
		v1.GET("/users/:id/reconcile", h.Reconcile)
		v1.GET("/users/:id/transactions", h.Transactions)
		v1.POST("/credits", throttle.Limit("credit", limit, window), h.Credit)
		v1.POST("/debits", h.Debit)
		v1.GET("/postback", throttle.Limit("postback", limit, window), h.Postback)
	}

	zap.L().Info("HTTP routes registered", zap.Int("routes", len(r.Routes())))
	return nil
}

// RegisterCollectors registers every service collector with reg. Collectors
// already registered are skipped.
func RegisterCollectors(reg prometheus.Registerer) error {
	var all []prometheus.Collector
	all = append(all, celengine.Collectors()...)
	all = append(all, policy.Collectors()...)
	all = append(all, ledger.Collectors()...)

	for _, c := range all {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
