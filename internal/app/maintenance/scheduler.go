package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/internal/monitoring"
	"github.com/charlesng35/syncmeet/internal/services"
	"github.com/charlesng35/syncmeet/pkg/logger"
	"github.com/charlesng35/syncmeet/pkg/metrics"
)

const (
	defaultReminderSpec     = "@every 1m"
	defaultArchiveSpec      = "@hourly"
	defaultPruneSpec        = "@daily"
	defaultJobTimeout       = 50 * time.Second
	defaultSyncRunRetention = 30

	jobReminders     = "reminders"
	jobArchive       = "archive"
	jobPruneSyncRuns = "prune_sync_runs"
)

// ReminderDispatcher sends due reminders.
type ReminderDispatcher interface {
	Dispatch(ctx context.Context) (services.DispatchStats, error)
}

// Sweeper archives elapsed meetings.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// CounterPurger drops expired rate limit counters.
type CounterPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler runs the periodic background jobs: reminder dispatch, the archival sweep and
// pruning of old sync run records. A job never overlaps with its own previous run.
type Scheduler struct {
	db        *gorm.DB
	reminders ReminderDispatcher
	sweeper   Sweeper
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	timeout   time.Duration
	retention int
	tracker   *monitoring.JobTracker
	counters  CounterPurger

	reminderSchedule string
	archiveSchedule  string
	pruneSchedule    string
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReminderSchedule overrides the cron specification for reminder dispatch.
func WithReminderSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.reminderSchedule = spec
		}
	}
}

// WithArchiveSchedule overrides the cron specification for the archival sweep.
func WithArchiveSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.archiveSchedule = spec
		}
	}
}

// WithJobTimeout bounds every job run.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithJobTracker records every job outcome into tracker for health reporting.
func WithJobTracker(tracker *monitoring.JobTracker) Option {
	return func(s *Scheduler) {
		s.tracker = tracker
	}
}

// WithCounterPurger clears expired rate limit counters alongside the daily sync run pruning.
func WithCounterPurger(purger CounterPurger) Option {
	return func(s *Scheduler) {
		s.counters = purger
	}
}

// WithSyncRunRetentionDays adjusts how long sync run records are kept.
func WithSyncRunRetentionDays(days int) Option {
	return func(s *Scheduler) {
		s.retention = days
	}
}

// NewScheduler constructs a Scheduler. A nil dependency disables the matching job.
func NewScheduler(db *gorm.DB, reminders ReminderDispatcher, sweeper Sweeper, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:               db,
		reminders:        reminders,
		sweeper:          sweeper,
		now:              time.Now,
		log:              logger.WithModule("scheduler"),
		timeout:          defaultJobTimeout,
		retention:        defaultSyncRunRetention,
		reminderSchedule: defaultReminderSpec,
		archiveSchedule:  defaultArchiveSpec,
		pruneSchedule:    defaultPruneSpec,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return s
}

// Start registers the enabled jobs and launches the cron loop.
func (s *Scheduler) Start() error {
	if s.reminders != nil {
		s.register(jobReminders)
		if _, err := s.cron.AddFunc(s.reminderSchedule, func() { _ = s.run(jobReminders, s.dispatch) }); err != nil {
			return fmt.Errorf("scheduler: reminders: %w", err)
		}
	}
	if s.sweeper != nil {
		s.register(jobArchive)
		if _, err := s.cron.AddFunc(s.archiveSchedule, func() { _ = s.run(jobArchive, s.sweep) }); err != nil {
			return fmt.Errorf("scheduler: archive: %w", err)
		}
	}
	if s.db != nil && s.retention > 0 {
		s.register(jobPruneSyncRuns)
		if _, err := s.cron.AddFunc(s.pruneSchedule, func() { _ = s.run(jobPruneSyncRuns, s.prune) }); err != nil {
			return fmt.Errorf("scheduler: prune: %w", err)
		}
	}

	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("reminders", s.reminderSchedule),
		zap.String("archive", s.archiveSchedule),
	)
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs complete.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes every enabled job sequentially and joins their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if s.reminders != nil {
		errs = multierr.Append(errs, s.dispatch(ctx))
	}
	if s.sweeper != nil {
		errs = multierr.Append(errs, s.sweep(ctx))
	}
	if s.db != nil && s.retention > 0 {
		errs = multierr.Append(errs, s.prune(ctx))
	}
	return errs
}

func (s *Scheduler) run(job string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"
		s.log.Warn("job failed", zap.String("job", job), zap.Error(err))
	}
	metrics.JobDuration.WithLabelValues(job, status).Observe(time.Since(started).Seconds())
	if s.tracker != nil {
		s.tracker.Record(job, s.now().UTC(), err)
	}
	return err
}

func (s *Scheduler) register(job string) {
	if s.tracker != nil {
		s.tracker.Register(job)
	}
}

func (s *Scheduler) dispatch(ctx context.Context) error {
	_, err := s.reminders.Dispatch(ctx)
	return err
}

func (s *Scheduler) sweep(ctx context.Context) error {
	_, err := s.sweeper.Sweep(ctx)
	return err
}

func (s *Scheduler) prune(ctx context.Context) error {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retention)
	_, err := PruneSyncRuns(ctx, s.db, cutoff)
	if s.counters != nil {
		_, purgeErr := s.counters.PurgeExpired(ctx)
		err = multierr.Append(err, purgeErr)
	}
	return err
}

// PruneSyncRuns deletes sync run records that finished before cutoff.
func PruneSyncRuns(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("prune sync runs: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("finished_at < ?", cutoff.UTC()).
		Delete(&models.SyncRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune sync runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
