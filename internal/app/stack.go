package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/syncmeet/internal/auth"
	"github.com/charlesng35/syncmeet/internal/cache"
	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/database"
	"github.com/charlesng35/syncmeet/internal/monitoring"
	"github.com/charlesng35/syncmeet/internal/monitoring/checks"
	"github.com/charlesng35/syncmeet/internal/services"
	"github.com/charlesng35/syncmeet/pkg/logger"
	"github.com/charlesng35/syncmeet/pkg/mail"
)

const databaseProbeTimeout = 2 * time.Second

// Stack bundles the long-lived components shared by the server and the operator CLI.
type Stack struct {
	DB          *gorm.DB
	JWT         *iauth.JWTService
	Notifier    *services.Notifier
	Users       *services.UserService
	Meetings    *services.MeetingService
	Invitations *services.InvitationService
	Reminders   *services.ReminderDispatcher
	Sweeper     *services.ArchivalSweeper
	Engine      *services.ReconciliationEngine
	Connections *services.CalendarConnectionService
	Health      *monitoring.HealthManager
	Jobs        *monitoring.JobTracker

	// RateCounters is set when rate limit windows are shared through the database.
	RateCounters *cache.DatabaseCounter

	// CalendarEnabled reports whether a Google OAuth client is configured.
	CalendarEnabled bool
}

// BuildStack opens the database, applies migrations and wires every service from cfg.
func BuildStack(cfg *Config) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	log := logger.WithModule("bootstrap")

	db, err := database.Open(cfg.Database.DatabaseOpenConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	stack := &Stack{DB: db}
	success := false
	defer func() {
		if !success {
			stack.Close()
		}
	}()

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}
	log.Info("database connected", zap.String("driver", cfg.Database.DatabaseOpenConfig().Driver))

	if stack.JWT, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig()); err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	stack.Notifier = services.NewNotifier(mailer, cfg.Server.ClientURL)

	provider, states, err := calendarProvider(cfg.Calendar)
	if err != nil {
		return nil, err
	}
	stack.CalendarEnabled = provider != nil

	if stack.Engine, err = services.NewReconciliationEngine(db, provider); err != nil {
		return nil, err
	}
	if stack.Users, err = services.NewUserService(db); err != nil {
		return nil, err
	}
	if stack.Meetings, err = services.NewMeetingService(db,
		services.WithMeetingNotifier(stack.Notifier),
		services.WithMeetingSyncer(stack.Engine),
	); err != nil {
		return nil, err
	}
	if stack.Invitations, err = services.NewInvitationService(db); err != nil {
		return nil, err
	}
	if stack.Reminders, err = services.NewReminderDispatcher(db, stack.Notifier); err != nil {
		return nil, err
	}
	if stack.Sweeper, err = services.NewArchivalSweeper(db); err != nil {
		return nil, err
	}
	if stack.Connections, err = services.NewCalendarConnectionService(db, provider, states, stack.Engine,
		services.WithReconcileTimeout(cfg.Calendar.ReconcileTimeout),
	); err != nil {
		return nil, err
	}

	if cfg.Server.RateLimit.SharedCounters() {
		stack.RateCounters = cache.NewDatabaseCounter(db, nil)
	}

	stack.Jobs = monitoring.NewJobTracker()
	stack.Health = monitoring.NewHealthManager()
	stack.Health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	stack.Health.RegisterReadiness(checks.Database(db, databaseProbeTimeout))
	if cfg.Scheduler.Enabled {
		stack.Health.RegisterReadiness(checks.Scheduler(stack.Jobs, 0, nil))
	}

	success = true
	return stack, nil
}

// Close waits for background reconciliations and releases the database.
func (s *Stack) Close() {
	if s == nil {
		return
	}
	if s.Connections != nil {
		s.Connections.Wait()
	}
	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			logger.WithModule("bootstrap").Warn("close database", zap.Error(err))
		}
	}
}

func calendarProvider(cfg CalendarConfig) (calendar.Provider, *calendar.StateCodec, error) {
	if !cfg.Google.Enabled {
		return nil, nil, nil
	}

	provider, err := calendar.NewGoogleProvider(cfg.GoogleProviderConfig())
	if errors.Is(err, calendar.ErrNotConfigured) {
		logger.WithModule("bootstrap").Warn("google calendar enabled without client credentials; integration disabled")
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("initialise google calendar: %w", err)
	}

	states, err := cfg.StateCodec(time.Now)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise calendar state codec: %w", err)
	}
	return provider, states, nil
}
