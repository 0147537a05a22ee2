package main

import (
	"log"

	"rewardcore/pkg/celengine"
	"rewardcore/pkg/config"
	"rewardcore/pkg/db"
	"rewardcore/pkg/health"
	"rewardcore/pkg/httpapi"
	"rewardcore/pkg/logger"
	"rewardcore/pkg/otelcol"
	"rewardcore/pkg/profiling"
	"rewardcore/pkg/redis"
	"rewardcore/pkg/sequence"
	"rewardcore/pkg/server"
	"rewardcore/services/availability"
	"rewardcore/services/fallback"
	"rewardcore/services/ledger"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/policy"
	"rewardcore/services/usage"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		sequence.Module,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			provideMoney,
			provideProgramCache,
			limits.NewStore,
			usage.NewTracker,
			availability.NewResolver,
			policy.NewEngine,
		),
		fx.Invoke(autoMigrate),
		fallback.Module,
		ledger.Module,
		httpapi.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func() fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Reward.NodeID)
}

func provideMoney(cfg *config.Config) (model.Money, error) {
	return model.NewMoney(cfg.Reward.CoinsPerUSD, cfg.Reward.MarkupFactor)
}

func provideProgramCache(cfg *config.Config) (*celengine.Cache, error) {
	return celengine.NewCache(cfg.Rules.CacheTTL)
}

func autoMigrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return err
	}
	zap.L().Info("[DB] schema migrated")
	return nil
}
