package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/logger"
	"github.com/charlesng35/syncmeet/pkg/metrics"
)

const (
	recipientOrganizer = "organizer"
	recipientInvitee   = "invitee"
)

// ReminderSender delivers a reminder email for a meeting.
type ReminderSender interface {
	SendReminder(ctx context.Context, meeting *models.Meeting, to string) error
}

// DispatchStats summarises one dispatcher tick.
type DispatchStats struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ReminderOption customises ReminderDispatcher behaviour.
type ReminderOption func(*ReminderDispatcher)

// WithReminderClock injects a custom clock primarily for testing.
func WithReminderClock(clock func() time.Time) ReminderOption {
	return func(d *ReminderDispatcher) {
		if clock != nil {
			d.now = clock
		}
	}
}

// ReminderDispatcher sends each due reminder at most once per recipient.
//
// Every delivery is preceded by a conditional flip of the recipient's sent flag and only the
// caller whose flip changed the row sends. A send that fails after the flip is not retried.
type ReminderDispatcher struct {
	db     *gorm.DB
	sender ReminderSender
	now    func() time.Time
	log    *zap.Logger
}

// NewReminderDispatcher constructs a ReminderDispatcher.
func NewReminderDispatcher(db *gorm.DB, sender ReminderSender, opts ...ReminderOption) (*ReminderDispatcher, error) {
	if db == nil {
		return nil, errors.New("reminder dispatcher: db is required")
	}
	if sender == nil {
		return nil, errors.New("reminder dispatcher: sender is required")
	}

	dispatcher := &ReminderDispatcher{
		db:     db,
		sender: sender,
		now:    time.Now,
		log:    logger.WithModule("reminders"),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// Dispatch runs one tick. Store errors abort the tick; delivery failures do not.
func (d *ReminderDispatcher) Dispatch(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats
	now := d.now().UTC()

	var meetings []models.Meeting
	err := d.db.WithContext(ctx).
		Where("archived = ? AND reminder_lead_minutes IS NOT NULL", false).
		Where("start_time > ? AND start_time <= ?", now, now.Add(maxReminderLeadMinutes*time.Minute)).
		Preload("Invitations", "status = ? AND reminder_sent = ?", models.InvitationAccepted, false).
		Order("start_time ASC").
		Find(&meetings).Error
	if err != nil {
		return stats, fmt.Errorf("reminder dispatcher: load meetings: %w", err)
	}

	for i := range meetings {
		meeting := &meetings[i]
		if !reminderDue(meeting, now) {
			continue
		}
		stats.Due++

		if err := d.remindOrganizer(ctx, meeting, &stats); err != nil {
			return stats, err
		}
		for j := range meeting.Invitations {
			if err := d.remindInvitee(ctx, meeting, &meeting.Invitations[j], &stats); err != nil {
				return stats, err
			}
		}
	}

	if stats.Due > 0 {
		d.log.Info("reminder tick complete",
			zap.Int("due", stats.Due),
			zap.Int("sent", stats.Sent),
			zap.Int("failed", stats.Failed),
			zap.Int("skipped", stats.Skipped),
		)
	}
	return stats, nil
}

func (d *ReminderDispatcher) remindOrganizer(ctx context.Context, meeting *models.Meeting, stats *DispatchStats) error {
	if meeting.OrganizerReminderSent || strings.TrimSpace(meeting.OrganizerEmail) == "" {
		return nil
	}

	result := d.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Where("id = ? AND organizer_reminder_sent = ? AND archived = ?", meeting.ID, false, false).
		Update("organizer_reminder_sent", true)
	if result.Error != nil {
		return fmt.Errorf("reminder dispatcher: flip organizer reminder: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		stats.Skipped++
		metrics.RemindersDispatched.WithLabelValues(recipientOrganizer, "skipped").Inc()
		return nil
	}

	d.deliver(ctx, meeting, meeting.OrganizerEmail, recipientOrganizer, stats)
	return nil
}

func (d *ReminderDispatcher) remindInvitee(ctx context.Context, meeting *models.Meeting, invitation *models.Invitation, stats *DispatchStats) error {
	if strings.TrimSpace(invitation.Email) == "" {
		return nil
	}

	result := d.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("id = ? AND reminder_sent = ? AND status = ?", invitation.ID, false, models.InvitationAccepted).
		Update("reminder_sent", true)
	if result.Error != nil {
		return fmt.Errorf("reminder dispatcher: flip invitee reminder: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		stats.Skipped++
		metrics.RemindersDispatched.WithLabelValues(recipientInvitee, "skipped").Inc()
		return nil
	}

	d.deliver(ctx, meeting, invitation.Email, recipientInvitee, stats)
	return nil
}

func (d *ReminderDispatcher) deliver(ctx context.Context, meeting *models.Meeting, to, recipient string, stats *DispatchStats) {
	if err := d.sender.SendReminder(ctx, meeting, to); err != nil {
		stats.Failed++
		metrics.RemindersDispatched.WithLabelValues(recipient, "failed").Inc()
		d.log.Warn("reminder delivery failed; not retried",
			zap.String("meeting_id", meeting.ID),
			zap.String("recipient", recipient),
			zap.String("email", to),
			zap.Error(err),
		)
		return
	}
	stats.Sent++
	metrics.RemindersDispatched.WithLabelValues(recipient, "sent").Inc()
}

// reminderDue reports whether now falls in [start - lead, start).
func reminderDue(meeting *models.Meeting, now time.Time) bool {
	dueAt, ok := meeting.ReminderDueAt()
	if !ok {
		return false
	}
	return !now.Before(dueAt) && now.Before(meeting.StartTime)
}
