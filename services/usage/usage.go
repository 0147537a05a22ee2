package usage

import (
	"context"
	"time"

	"rewardcore/pkg/db/option"
	"rewardcore/pkg/repository"
	"rewardcore/services/model"

	"gorm.io/gorm"
)

// PeriodStart returns the most recent resetHour:00 UTC boundary at or before now.
func PeriodStart(now time.Time, resetHour int) time.Time {
	now = now.UTC()
	boundary := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if boundary.After(now) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// ApplyRolloverIfNeeded zeroes the counters of p when it belongs to an earlier
// period than the one containing now. It reports whether anything changed.
func ApplyRolloverIfNeeded(p *model.UsagePeriod, now time.Time, resetHour int) bool {
	boundary := PeriodStart(now, resetHour)
	if !p.PeriodStart.Before(boundary) {
		return false
	}
	p.Reset(boundary)
	return true
}

type Tracker struct {
	periods repository.Repository[model.UsagePeriod]
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{periods: repository.ProvideStore[model.UsagePeriod](db)}
}

// Find returns the user's period row without locking, or nil when the user
// has never acted.
func (t *Tracker) Find(ctx context.Context, tx *gorm.DB, userID int64) (*model.UsagePeriod, error) {
	return t.periods.WithTrx(tx).FindOne(ctx, nil, option.WithUserID(userID))
}

// GetOrCreate returns the user's period row locked for update inside tx,
// inserting a zeroed row starting at the current period when none exists.
func (t *Tracker) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64, now time.Time, resetHour int) (*model.UsagePeriod, error) {
	repo := t.periods.WithTrx(tx)

	p, err := repo.FindOne(ctx, nil, option.WithUserID(userID), option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	p = &model.UsagePeriod{
		UserID:      userID,
		PeriodStart: PeriodStart(now, resetHour),
	}
	if err := repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Rollover applies ApplyRolloverIfNeeded and persists the reset inside tx.
func (t *Tracker) Rollover(ctx context.Context, tx *gorm.DB, p *model.UsagePeriod, now time.Time, resetHour int) (bool, error) {
	if !ApplyRolloverIfNeeded(p, now, resetHour) {
		return false, nil
	}
	err := t.periods.WithTrx(tx).Update(ctx, p.ID, map[string]any{
		"tasks_today":    0,
		"ads_today":      0,
		"surveys_today":  0,
		"installs_today": 0,
		"earnings_today": 0,
		"period_start":   p.PeriodStart,
	})
	return err == nil, err
}

// Record bumps the category counter and earnings of p and persists them.
func (t *Tracker) Record(ctx context.Context, tx *gorm.DB, p *model.UsagePeriod, category model.Category, coins int64, now time.Time) error {
	counter := p.Counter(category)
	if counter != nil {
		*counter++
	}
	p.EarningsToday += coins
	p.LastActionAt = &now

	return t.periods.WithTrx(tx).Update(ctx, p.ID, map[string]any{
		"tasks_today":    p.TasksToday,
		"ads_today":      p.AdsToday,
		"surveys_today":  p.SurveysToday,
		"installs_today": p.InstallsToday,
		"earnings_today": p.EarningsToday,
		"last_action_at": now,
	})
}
