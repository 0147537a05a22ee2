package limits

import (
	"context"
	"fmt"

	"rewardcore/pkg/config"
	"rewardcore/pkg/db/option"
	"rewardcore/pkg/repository"
	"rewardcore/services/model"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Store reads limit configuration and platform rows. Nothing here is cached:
// admin edits are visible on the next call.
type Store struct {
	db        *gorm.DB
	configs   repository.Repository[model.LimitConfig]
	platforms repository.Repository[model.Platform]
	offers    repository.Repository[model.Offer]
	defaults  model.LimitConfig
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewStore(p Params) (*Store, error) {
	defaults, err := DefaultsFromConfig(p.Config.Reward)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:        p.DB,
		configs:   repository.ProvideStore[model.LimitConfig](p.DB),
		platforms: repository.ProvideStore[model.Platform](p.DB),
		offers:    repository.ProvideStore[model.Offer](p.DB),
		defaults:  defaults,
	}, nil
}

// DefaultsFromConfig builds the LimitConfig used when no row has been saved.
func DefaultsFromConfig(r config.Reward) (model.LimitConfig, error) {
	capFree, err := decimal.NewFromString(r.Defaults.DailyEarnCapFree)
	if err != nil {
		return model.LimitConfig{}, fmt.Errorf("parse daily earn cap free: %w", err)
	}
	capPaid, err := decimal.NewFromString(r.Defaults.DailyEarnCapPaid)
	if err != nil {
		return model.LimitConfig{}, fmt.Errorf("parse daily earn cap paid: %w", err)
	}
	d := r.Defaults
	return model.LimitConfig{
		LimitAdsFree:        d.AdsFree,
		LimitAdsPaid:        d.AdsPaid,
		LimitTasksFree:      d.TasksFree,
		LimitTasksPaid:      d.TasksPaid,
		LimitSurveysFree:    d.SurveysFree,
		LimitSurveysPaid:    d.SurveysPaid,
		LimitInstallsFree:   d.InstallsFree,
		LimitInstallsPaid:   d.InstallsPaid,
		DailyEarningCapFree: capFree,
		DailyEarningCapPaid: capPaid,
		ResetHour:           r.ResetHour,
	}, nil
}

func (s *Store) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// Limits returns the saved configuration, or the defaults when none exists.
func (s *Store) Limits(ctx context.Context, tx *gorm.DB) (*model.LimitConfig, error) {
	cfg, err := s.configs.WithTrx(s.conn(tx)).FindOne(ctx, nil, option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		d := s.defaults
		return &d, nil
	}
	return cfg, nil
}

// Save upserts the singleton row.
func (s *Store) Save(ctx context.Context, cfg *model.LimitConfig) error {
	if cfg.ResetHour < 0 || cfg.ResetHour > 23 {
		return fmt.Errorf("reset hour must be within 0-23, got %d", cfg.ResetHour)
	}
	current, err := s.configs.FindOne(ctx, nil, option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}))
	if err != nil {
		return err
	}
	if current != nil {
		cfg.ID = current.ID
		return s.db.WithContext(ctx).Save(cfg).Error
	}
	return s.configs.Create(ctx, cfg)
}

// Platform returns the platform with id, or nil.
func (s *Store) Platform(ctx context.Context, tx *gorm.DB, id int64) (*model.Platform, error) {
	return s.platforms.WithTrx(s.conn(tx)).FindByID(ctx, id)
}

func (s *Store) PlatformBySlug(ctx context.Context, tx *gorm.DB, slug string) (*model.Platform, error) {
	if slug == "" {
		return nil, nil
	}
	return s.platforms.WithTrx(s.conn(tx)).FindOne(ctx, &model.Platform{Slug: slug})
}

// EnabledPlatforms lists enabled platforms of a category by (priority, id).
func (s *Store) EnabledPlatforms(ctx context.Context, tx *gorm.DB, category model.Category) ([]*model.Platform, error) {
	return s.platforms.WithTrx(s.conn(tx)).Find(ctx,
		&model.Platform{Category: category, Status: model.PlatformEnabled},
		func(db *gorm.DB) *gorm.DB { return db.Order("priority ASC").Order("id ASC") },
	)
}

func (s *Store) HasEnabledPlatform(ctx context.Context, tx *gorm.DB, category model.Category) (bool, error) {
	n, err := s.platforms.WithTrx(s.conn(tx)).Count(ctx, &model.Platform{Category: category, Status: model.PlatformEnabled})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ActiveOffers counts active offers whose provider matches the platform name.
func (s *Store) ActiveOffers(ctx context.Context, tx *gorm.DB, provider string) (int64, error) {
	return s.offers.WithTrx(s.conn(tx)).Count(ctx, &model.Offer{Provider: provider, IsActive: true})
}
