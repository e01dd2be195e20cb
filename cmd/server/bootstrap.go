package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/syncmeet/internal/api"
	"github.com/charlesng35/syncmeet/internal/app"
	"github.com/charlesng35/syncmeet/internal/app/maintenance"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	*app.Stack
	Scheduler *maintenance.Scheduler
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, services, background jobs and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	runtime := &runtimeStack{}
	success := false

	defer func() {
		if !success {
			runtime.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack, err := app.BuildStack(cfg)
	if err != nil {
		return nil, err
	}
	runtime.Stack = stack
	if !stack.CalendarEnabled {
		log.Info("calendar integration disabled")
	}

	if cfg.Scheduler.Enabled {
		runtime.Scheduler = newScheduler(cfg, stack)
		if err := runtime.Scheduler.Start(); err != nil {
			return nil, fmt.Errorf("start scheduler: %w", err)
		}
	}

	runtime.Router, err = api.NewRouter(routerDependencies(cfg, stack))
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return runtime, nil
}

func newScheduler(cfg *app.Config, stack *app.Stack) *maintenance.Scheduler {
	opts := []maintenance.Option{
		maintenance.WithReminderSchedule(cfg.Scheduler.ReminderSchedule),
		maintenance.WithArchiveSchedule(cfg.Scheduler.ArchiveSchedule),
		maintenance.WithJobTimeout(cfg.Scheduler.JobTimeout),
		maintenance.WithSyncRunRetentionDays(cfg.Scheduler.SyncRunRetentionDays),
		maintenance.WithJobTracker(stack.Jobs),
	}
	if stack.RateCounters != nil {
		opts = append(opts, maintenance.WithCounterPurger(stack.RateCounters))
	}
	return maintenance.NewScheduler(stack.DB, stack.Reminders, stack.Sweeper, opts...)
}

func routerDependencies(cfg *app.Config, stack *app.Stack) api.Dependencies {
	deps := api.Dependencies{
		Config:      cfg,
		JWT:         stack.JWT,
		Meetings:    stack.Meetings,
		Invitations: stack.Invitations,
		Connections: stack.Connections,
		Health:      stack.Health,
	}
	if stack.CalendarEnabled {
		deps.Syncer = stack.Engine
		deps.Reconciler = stack.Engine
	}
	if stack.RateCounters != nil {
		deps.RateCounter = stack.RateCounters
	}
	return deps
}

// Shutdown stops background jobs, waiting for running ones, then releases resources.
func (r *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if r == nil {
		return
	}

	if r.Scheduler != nil {
		select {
		case <-r.Scheduler.Stop().Done():
		case <-ctx.Done():
			log.Warn("scheduler jobs still running at shutdown deadline")
		}
	}

	r.Stack.Close()
}
