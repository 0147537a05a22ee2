package usage

import (
	"context"
	"testing"
	"time"

	"rewardcore/services/model"
	"rewardcore/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		resetHour int
		want      time.Time
	}{
		{
			name: "midnight reset",
			now:  time.Date(2026, 5, 10, 13, 30, 0, 0, time.UTC),
			want: time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "before reset hour falls back to previous day",
			now:       time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC),
			resetHour: 6,
			want:      time.Date(2026, 5, 9, 6, 0, 0, 0, time.UTC),
		},
		{
			name:      "exactly on boundary",
			now:       time.Date(2026, 5, 10, 6, 0, 0, 0, time.UTC),
			resetHour: 6,
			want:      time.Date(2026, 5, 10, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "non utc input",
			now:  time.Date(2026, 5, 10, 1, 0, 0, 0, time.FixedZone("WIB", 7*3600)),
			want: time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, PeriodStart(tt.now, tt.resetHour))
		})
	}
}

func TestApplyRolloverIfNeeded(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	stale := &model.UsagePeriod{
		AdsToday:      7,
		TasksToday:    2,
		EarningsToday: 120,
		PeriodStart:   time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC),
	}
	require.True(t, ApplyRolloverIfNeeded(stale, now, 0))
	require.Zero(t, stale.AdsToday)
	require.Zero(t, stale.TasksToday)
	require.Zero(t, stale.EarningsToday)
	require.Equal(t, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), stale.PeriodStart)

	current := &model.UsagePeriod{AdsToday: 3, PeriodStart: stale.PeriodStart}
	require.False(t, ApplyRolloverIfNeeded(current, now, 0))
	require.Equal(t, 3, current.AdsToday)
}

func TestTrackerGetOrCreateAndRollover(t *testing.T) {
	db := testutil.NewTestDB(t, &model.UsagePeriod{})
	tracker := NewTracker(db)
	ctx := context.Background()

	day1 := time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	err := db.Transaction(func(tx *gorm.DB) error {
		p, err := tracker.GetOrCreate(ctx, tx, 42, day1, 0)
		require.NoError(t, err)
		require.NotZero(t, p.ID)
		require.Equal(t, time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC), p.PeriodStart)
		return tracker.Record(ctx, tx, p, model.CategoryAds, 25, day1)
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		p, err := tracker.GetOrCreate(ctx, tx, 42, day1, 0)
		require.NoError(t, err)
		require.Equal(t, 1, p.AdsToday)
		require.Equal(t, int64(25), p.EarningsToday)

		changed, err := tracker.Rollover(ctx, tx, p, day2, 0)
		require.NoError(t, err)
		require.True(t, changed)
		return nil
	})
	require.NoError(t, err)

	stored, err := tracker.Find(ctx, db, 42)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Zero(t, stored.AdsToday)
	require.Zero(t, stored.EarningsToday)
	require.True(t, stored.PeriodStart.Equal(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)))

	var count int64
	require.NoError(t, db.Model(&model.UsagePeriod{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}
