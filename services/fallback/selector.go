package fallback

import (
	"context"
	"sort"

	"rewardcore/pkg/errutil"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/policy"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reasonNoInventory = "no active offers"

type noProviderError struct{}

func (noProviderError) Error() string              { return "no providers available" }
func (noProviderError) Status() errutil.CoreStatus { return errutil.StatusUnprocessableEntity }

var ErrNoProviderAvailable error = noProviderError{}

// Admitter decides whether a user may act on a platform right now.
type Admitter interface {
	CanAct(ctx context.Context, userID, platformID int64) (policy.Decision, error)
}

type Selector struct {
	db     *gorm.DB
	limits *limits.Store
	admit  Admitter
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Limits   *limits.Store
	Admitter Admitter
}

func NewSelector(p Params) *Selector {
	return &Selector{db: p.DB, limits: p.Limits, admit: p.Admitter}
}

// SelectProvider returns the first enabled platform in category, by priority
// then id, that admits the user and has inventory where the category needs it.
func (s *Selector) SelectProvider(ctx context.Context, userID int64, category model.Category) (*model.Platform, error) {
	if !category.Valid() {
		return nil, errutil.BadRequest("invalid category", nil)
	}

	candidates, err := s.limits.EnabledPlatforms(ctx, nil, category)
	if err != nil {
		return nil, errutil.Internal("failed to list platforms", err)
	}
	if err := s.rotate(ctx, userID, candidates); err != nil {
		return nil, errutil.Internal("failed to order platforms", err)
	}

	log := zap.L().With(zap.Int64("user_id", userID), zap.String("category", string(category)))

	for _, p := range candidates {
		d, err := s.admit.CanAct(ctx, userID, p.ID)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			log.Info("provider skipped", zap.Int64("platform_id", p.ID), zap.String("rule", d.Rule), zap.String("reason", d.Reason))
			continue
		}

		if category.RequiresInventory() {
			n, err := s.limits.ActiveOffers(ctx, nil, p.Name)
			if err != nil {
				return nil, errutil.Internal("failed to count offers", err)
			}
			if n == 0 {
				log.Info("provider skipped", zap.Int64("platform_id", p.ID), zap.String("reason", reasonNoInventory))
				continue
			}
		}

		return p, nil
	}

	return nil, ErrNoProviderAvailable
}

// rotate reorders round_robin platforms that share a priority so the one the
// user was credited by least recently comes first. Other platforms keep their
// positions. Credit ids are snowflakes, so the highest id is the latest.
func (s *Selector) rotate(ctx context.Context, userID int64, list []*model.Platform) error {
	var ids []int64
	for _, p := range list {
		if p.RotationMode == model.RotationRoundRobin {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) < 2 {
		return nil
	}

	var rows []struct {
		PlatformID int64
		LastID     int64
	}
	err := s.db.WithContext(ctx).Model(&model.RewardCredit{}).
		Select("platform_id, MAX(id) AS last_id").
		Where("user_id = ? AND platform_id IN ?", userID, ids).
		Group("platform_id").
		Scan(&rows).Error
	if err != nil {
		return err
	}
	last := make(map[int64]int64, len(rows))
	for _, r := range rows {
		last[r.PlatformID] = r.LastID
	}

	for start := 0; start < len(list); {
		end := start
		for end < len(list) && list[end].Priority == list[start].Priority {
			end++
		}

		var slots []int
		var group []*model.Platform
		for i := start; i < end; i++ {
			if list[i].RotationMode == model.RotationRoundRobin {
				slots = append(slots, i)
				group = append(group, list[i])
			}
		}
		sort.SliceStable(group, func(a, b int) bool {
			return last[group[a].ID] < last[group[b].ID]
		})
		for i, slot := range slots {
			list[slot] = group[i]
		}

		start = end
	}
	return nil
}
