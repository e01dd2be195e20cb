package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	testutil "github.com/charlesng35/syncmeet/internal/database/testutil"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/internal/monitoring"
	"github.com/charlesng35/syncmeet/internal/services"
)

type countingDispatcher struct {
	calls atomic.Int32
	err   error
}

func (d *countingDispatcher) Dispatch(context.Context) (services.DispatchStats, error) {
	d.calls.Add(1)
	return services.DispatchStats{}, d.err
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (int64, error) {
	s.calls.Add(1)
	return 0, s.err
}

func TestPruneSyncRuns(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2030, 2, 10, 15, 0, 0, 0, time.UTC)

	old := models.SyncRun{OwnerEmail: "a@example.com", Trigger: models.SyncTriggerCLI, StartedAt: now.AddDate(0, 0, -40), FinishedAt: now.AddDate(0, 0, -40)}
	recent := models.SyncRun{OwnerEmail: "a@example.com", Trigger: models.SyncTriggerCLI, StartedAt: now.Add(-time.Hour), FinishedAt: now.Add(-time.Hour)}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&recent).Error)

	removed, err := PruneSyncRuns(context.Background(), db, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.SyncRun
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, recent.ID, remaining[0].ID)

	_, err = PruneSyncRuns(context.Background(), nil, now)
	require.Error(t, err)
}

type countingPurger struct {
	calls atomic.Int32
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 0, nil
}

func TestSchedulerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	dispatcher := &countingDispatcher{}
	sweeper := &countingSweeper{}
	purger := &countingPurger{}

	s := NewScheduler(db, dispatcher, sweeper,
		WithNow(func() time.Time { return time.Date(2030, 2, 10, 0, 0, 0, 0, time.UTC) }),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
		WithCounterPurger(purger),
	)

	require.NoError(t, s.RunOnce(context.Background()))
	require.EqualValues(t, 1, dispatcher.calls.Load())
	require.EqualValues(t, 1, sweeper.calls.Load())
	require.EqualValues(t, 1, purger.calls.Load())
}

func TestSchedulerRunOnceJoinsErrors(t *testing.T) {
	dispatcher := &countingDispatcher{err: errors.New("dispatch failed")}
	sweeper := &countingSweeper{err: errors.New("sweep failed")}

	s := NewScheduler(nil, dispatcher, sweeper)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "dispatch failed")
	require.Contains(t, err.Error(), "sweep failed")
}

func TestSchedulerStartRunsJobs(t *testing.T) {
	dispatcher := &countingDispatcher{}
	sweeper := &countingSweeper{err: errors.New("store unavailable")}
	tracker := monitoring.NewJobTracker()

	s := NewScheduler(nil, dispatcher, sweeper,
		WithReminderSchedule("@every 1s"),
		WithArchiveSchedule("@every 1s"),
		WithJobTimeout(time.Second),
		WithJobTracker(tracker),
	)
	require.NoError(t, s.Start())
	t.Cleanup(func() { <-s.Stop().Done() })

	require.Len(t, tracker.Snapshot(), 2)
	require.Eventually(t, func() bool {
		return dispatcher.calls.Load() > 0 && sweeper.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, state := range tracker.Snapshot() {
			if state.Job == jobArchive && state.LastError == "store unavailable" {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil, &countingDispatcher{}, nil, WithReminderSchedule("not a spec"))
	require.Error(t, s.Start())
}
