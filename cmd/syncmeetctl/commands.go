package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/charlesng35/syncmeet/internal/app"
	"github.com/charlesng35/syncmeet/internal/app/maintenance"
	iauth "github.com/charlesng35/syncmeet/internal/auth"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/logger"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "syncmeetctl",
		Usage: "Operate a SyncMeet deployment: run background jobs, reconcile calendars, manage users.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to configuration directory or file", EnvVars: []string{"SYNCMEET_CONFIG"}},
		},
		Commands: []*cli.Command{
			sweepCommand(),
			remindCommand(),
			reconcileCommand(),
			pruneCommand(),
			userCommand(),
			tokenCommand(),
		},
	}
}

// session is the configuration and wired services one command runs against.
type session struct {
	cfg       *app.Config
	stack     *app.Stack
	generated map[string]bool
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return nil, err
	}
	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	stack, err := app.BuildStack(cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, stack: stack, generated: generated}, nil
}

func (s *session) Close() {
	s.stack.Close()
	_ = logger.Sync()
}

// withSession opens a session for the duration of fn.
func withSession(fn func(c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(c, s)
	}
}

func loadConfig(path string) (*app.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return app.LoadConfig()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path %q: %w", path, err)
	}
	if info.IsDir() {
		return app.LoadConfig(path)
	}
	return app.LoadConfig(filepath.Dir(path))
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Archive every meeting whose end time has passed.",
		Action: withSession(func(c *cli.Context, s *session) error {
			archived, err := s.stack.Sweeper.Sweep(c.Context)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "archived %d meeting(s)\n", archived)
			return nil
		}),
	}
}

func remindCommand() *cli.Command {
	return &cli.Command{
		Name:  "remind",
		Usage: "Send the reminders that are due now.",
		Action: withSession(func(c *cli.Context, s *session) error {
			stats, err := s.stack.Reminders.Dispatch(c.Context)
			if err != nil {
				return fmt.Errorf("remind: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "due %d, sent %d, failed %d, skipped %d\n", stats.Due, stats.Sent, stats.Failed, stats.Skipped)
			return nil
		}),
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Run a two-way calendar sync for one user.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "Owner email", Required: true},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			if !s.stack.CalendarEnabled {
				return errors.New("reconcile: calendar integration is not configured")
			}
			report, err := s.stack.Engine.Reconcile(c.Context, c.String("email"), models.SyncTriggerCLI)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "push: created %d, failed %d\npull: created %d, skipped %d, failed %d\n",
				report.Push.Created, report.Push.Failed,
				report.Pull.Created, report.Pull.Skipped, report.Pull.Failed)
			for _, failure := range append(report.Push.Failures, report.Pull.Failures...) {
				fmt.Fprintf(c.App.Writer, "  failed %s%s: %s\n", failure.MeetingID, failure.EventID, failure.Error)
			}
			return nil
		}),
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune-sync-runs",
		Usage: "Delete sync run records older than the retention window.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Usage: "Retention in days", Value: 30},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			days := c.Int("days")
			if days <= 0 {
				return errors.New("prune-sync-runs: --days must be positive")
			}
			removed, err := maintenance.PruneSyncRuns(c.Context, s.stack.DB, time.Now().UTC().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "removed %d sync run(s)\n", removed)
			return nil
		}),
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage user accounts.",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a user; pending invitations to the email are linked to it.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "name"},
				},
				Action: withSession(func(c *cli.Context, s *session) error {
					user, err := s.stack.Users.Create(c.Context, c.String("email"), c.String("name"))
					if err != nil {
						return fmt.Errorf("user add: %w", err)
					}
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", user.ID, user.Email)
					return nil
				}),
			},
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for a registered user, signed with the configured secret.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			if s.generated[app.GeneratedJWTSecret] {
				return errors.New("token: auth.jwt.secret is not configured; a token signed with a throwaway secret would be useless")
			}
			user, err := s.stack.Users.GetByEmail(c.Context, c.String("email"))
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			token, err := s.stack.JWT.GenerateAccessToken(iauth.AccessTokenInput{
				UserID: user.ID,
				Email:  user.Email,
				Name:   user.Name,
			})
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		}),
	}
}
