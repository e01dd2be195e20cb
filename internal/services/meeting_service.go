package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/crypto"
	"github.com/charlesng35/syncmeet/pkg/logger"
	"github.com/charlesng35/syncmeet/pkg/metrics"
	"github.com/charlesng35/syncmeet/pkg/validator"
)

const (
	maxTitleLength          = 200
	maxDescriptionLength    = 4000
	minReminderLeadMinutes  = 1
	maxReminderLeadMinutes  = 1440
	defaultInvitationTokenN = 32
)

// MeetingSyncer pushes a meeting to the organiser's external calendar.
type MeetingSyncer interface {
	SyncMeeting(ctx context.Context, actorID, meetingID string) (*models.Meeting, error)
}

// CreateMeetingInput describes a meeting to book.
type CreateMeetingInput struct {
	Title               string
	Description         string
	StartTime           time.Time
	EndTime             time.Time
	ColorTag            string
	ReminderLeadMinutes *int
	Invitees            []string
}

// UpdateMeetingInput carries a partial update; nil fields are left unchanged.
type UpdateMeetingInput struct {
	Title               *string
	Description         *string
	StartTime           *time.Time
	EndTime             *time.Time
	ColorTag            *string
	ReminderLeadMinutes *int
	ClearReminder       bool
}

// ListMeetingsFilter narrows List results. From and To bound the meeting interval inclusively.
type ListMeetingsFilter struct {
	From            *time.Time
	To              *time.Time
	IncludeArchived bool
}

// MeetingOption customises MeetingService behaviour.
type MeetingOption func(*MeetingService)

// WithMeetingClock injects a custom clock primarily for testing.
func WithMeetingClock(clock func() time.Time) MeetingOption {
	return func(s *MeetingService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithMeetingNotifier enables invitation emails.
func WithMeetingNotifier(notifier *Notifier) MeetingOption {
	return func(s *MeetingService) {
		s.notifier = notifier
	}
}

// WithMeetingSyncer enables the post-commit push to the external calendar.
func WithMeetingSyncer(syncer MeetingSyncer) MeetingOption {
	return func(s *MeetingService) {
		s.syncer = syncer
	}
}

// MeetingService books, reads, edits and archives meetings.
type MeetingService struct {
	db       *gorm.DB
	notifier *Notifier
	syncer   MeetingSyncer
	now      func() time.Time
	log      *zap.Logger
}

// NewMeetingService constructs a MeetingService with the provided dependencies.
func NewMeetingService(db *gorm.DB, opts ...MeetingOption) (*MeetingService, error) {
	if db == nil {
		return nil, errors.New("meeting service: db is required")
	}

	service := &MeetingService{
		db:  db,
		now: time.Now,
		log: logger.WithModule("meetings"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create validates and books a meeting together with its invitations. The conflict check,
// the meeting row and every invitation are written in one transaction.
func (s *MeetingService) Create(ctx context.Context, actor Actor, input CreateMeetingInput) (*models.Meeting, error) {
	actor = actor.normalised()
	if !actor.valid() {
		return nil, ErrForbidden
	}

	meeting, invitees, err := s.prepareCreate(actor, input)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockBookings(tx, actor.UserID); err != nil {
			return err
		}
		conflict, err := hasConflict(tx, actor.UserID, actor.Email, meeting.StartTime, meeting.EndTime, "")
		if err != nil {
			return err
		}
		if conflict {
			return ErrScheduleConflict
		}

		if err := tx.Omit("Invitations").Create(meeting).Error; err != nil {
			return fmt.Errorf("create meeting: %w", err)
		}

		invitations, err := buildInvitations(tx, meeting.ID, invitees)
		if err != nil {
			return err
		}
		if len(invitations) > 0 {
			if err := tx.Omit("Meeting").Create(&invitations).Error; err != nil {
				return fmt.Errorf("create invitations: %w", err)
			}
		}
		meeting.Invitations = invitations
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrScheduleConflict) {
			metrics.BookingConflicts.Inc()
			return nil, err
		}
		return nil, fmt.Errorf("meeting service: %w", err)
	}

	s.log.Info("meeting created",
		zap.String("meeting_id", meeting.ID),
		zap.String("organizer_id", meeting.OrganizerID),
		zap.Int("invitations", len(meeting.Invitations)),
	)

	s.sendInvitations(ctx, meeting)
	return s.afterCommit(ctx, actor, meeting), nil
}

// Get returns a meeting with its invitations when the actor organises it or is invited.
func (s *MeetingService) Get(ctx context.Context, actor Actor, id string) (*models.Meeting, error) {
	actor = actor.normalised()

	meeting, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(meeting, actor) {
		return nil, ErrForbidden
	}
	return meeting, nil
}

// List returns the actor's meetings ordered by start time. Elapsed meetings are archived first
// so the result never shows a finished meeting as active.
func (s *MeetingService) List(ctx context.Context, actor Actor, filter ListMeetingsFilter) ([]models.Meeting, error) {
	actor = actor.normalised()
	if !actor.valid() {
		return nil, ErrForbidden
	}

	if _, err := s.archiveElapsed(ctx, actor); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	query := visibleTo(db.Model(&models.Meeting{}), db, actor.UserID, actor.Email)
	if !filter.IncludeArchived {
		query = query.Where("archived = ?", false)
	}
	if filter.From != nil {
		query = query.Where("start_time >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("end_time <= ?", filter.To.UTC())
	}

	var meetings []models.Meeting
	if err := query.Preload("Invitations").Order("start_time ASC").Find(&meetings).Error; err != nil {
		return nil, fmt.Errorf("meeting service: list meetings: %w", err)
	}
	return meetings, nil
}

// ListArchived returns the actor's archived meetings, most recent first.
func (s *MeetingService) ListArchived(ctx context.Context, actor Actor) ([]models.Meeting, error) {
	actor = actor.normalised()
	if !actor.valid() {
		return nil, ErrForbidden
	}

	if _, err := s.archiveElapsed(ctx, actor); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var meetings []models.Meeting
	err := visibleTo(db.Model(&models.Meeting{}), db, actor.UserID, actor.Email).
		Where("archived = ?", true).
		Preload("Invitations").
		Order("start_time DESC").
		Find(&meetings).Error
	if err != nil {
		return nil, fmt.Errorf("meeting service: list archived meetings: %w", err)
	}
	return meetings, nil
}

// Update applies a partial edit. Only the organiser may edit, archived meetings are read-only,
// and a changed interval is re-checked for conflicts excluding the meeting itself.
func (s *MeetingService) Update(ctx context.Context, actor Actor, id string, input UpdateMeetingInput) (*models.Meeting, error) {
	actor = actor.normalised()

	var updated *models.Meeting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meeting models.Meeting
		if err := tx.Take(&meeting, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMeetingNotFound
			}
			return fmt.Errorf("load meeting: %w", err)
		}
		if meeting.OrganizerID != actor.UserID {
			return ErrForbidden
		}
		if meeting.Archived {
			return invalid("meeting", "archived meetings cannot be modified")
		}

		changes, err := mergeUpdate(&meeting, input)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			updated = &meeting
			return nil
		}

		_, startChanged := changes["start_time"]
		_, endChanged := changes["end_time"]
		if startChanged || endChanged {
			if err := lockBookings(tx, actor.UserID); err != nil {
				return err
			}
			conflict, err := hasConflict(tx, actor.UserID, actor.Email, meeting.StartTime, meeting.EndTime, meeting.ID)
			if err != nil {
				return err
			}
			if conflict {
				return ErrScheduleConflict
			}
		}

		result := tx.Model(&models.Meeting{}).
			Where("id = ? AND archived = ?", meeting.ID, false).
			Updates(changes)
		if result.Error != nil {
			return fmt.Errorf("update meeting: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return invalid("meeting", "archived meetings cannot be modified")
		}
		updated = &meeting
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrScheduleConflict):
			metrics.BookingConflicts.Inc()
			return nil, err
		case errors.Is(err, ErrMeetingNotFound), errors.Is(err, ErrForbidden), IsValidationError(err):
			return nil, err
		}
		return nil, fmt.Errorf("meeting service: %w", err)
	}

	reloaded, err := s.load(ctx, updated.ID)
	if err != nil {
		return nil, err
	}
	return s.afterCommit(ctx, actor, reloaded), nil
}

// Archive marks a meeting archived. Archiving an archived meeting is a no-op.
func (s *MeetingService) Archive(ctx context.Context, actor Actor, id string) (*models.Meeting, error) {
	actor = actor.normalised()

	meeting, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if meeting.OrganizerID != actor.UserID {
		return nil, ErrForbidden
	}

	result := s.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Where("id = ? AND archived = ?", meeting.ID, false).
		Update("archived", true)
	if result.Error != nil {
		return nil, fmt.Errorf("meeting service: archive meeting: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.MeetingsArchived.Add(float64(result.RowsAffected))
	}

	meeting.Archived = true
	return meeting, nil
}

func (s *MeetingService) load(ctx context.Context, id string) (*models.Meeting, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrMeetingNotFound
	}

	var meeting models.Meeting
	err := s.db.WithContext(ctx).
		Preload("Invitations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Take(&meeting, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, fmt.Errorf("meeting service: load meeting: %w", err)
	}
	return &meeting, nil
}

func (s *MeetingService) archiveElapsed(ctx context.Context, actor Actor) (int64, error) {
	db := s.db.WithContext(ctx)
	result := visibleTo(db.Model(&models.Meeting{}), db, actor.UserID, actor.Email).
		Where("archived = ? AND end_time < ?", false, s.now().UTC()).
		Update("archived", true)
	if result.Error != nil {
		return 0, fmt.Errorf("meeting service: archive elapsed meetings: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.MeetingsArchived.Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *MeetingService) prepareCreate(actor Actor, input CreateMeetingInput) (*models.Meeting, []string, error) {
	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, nil, err
	}
	description, err := validateDescription(input.Description)
	if err != nil {
		return nil, nil, err
	}
	start, end, err := validateInterval(input.StartTime, input.EndTime)
	if err != nil {
		return nil, nil, err
	}
	color, err := normaliseColorTag(input.ColorTag)
	if err != nil {
		return nil, nil, err
	}
	if err := validateReminderLead(input.ReminderLeadMinutes); err != nil {
		return nil, nil, err
	}

	invitees := normaliseEmails(input.Invitees)
	for _, email := range invitees {
		if !validEmail(email) {
			return nil, nil, invalid("invitees", "%q is not a valid email address", email)
		}
		if email == actor.Email {
			return nil, nil, invalid("invitees", "organizer cannot invite themselves")
		}
	}

	return &models.Meeting{
		OrganizerID:         actor.UserID,
		OrganizerEmail:      actor.Email,
		Title:               title,
		Description:         description,
		StartTime:           start,
		EndTime:             end,
		ColorTag:            color,
		ReminderLeadMinutes: cloneInt(input.ReminderLeadMinutes),
	}, invitees, nil
}

func (s *MeetingService) sendInvitations(ctx context.Context, meeting *models.Meeting) {
	if s.notifier == nil {
		return
	}
	for i := range meeting.Invitations {
		inv := &meeting.Invitations[i]
		if err := s.notifier.SendInvitation(ctx, meeting, inv); err != nil {
			s.log.Warn("send invitation failed",
				zap.String("meeting_id", meeting.ID),
				zap.String("email", inv.Email),
				zap.Error(err),
			)
		}
	}
}

// afterCommit runs the best-effort external push. The returned meeting reflects a newly
// recorded external event id when the push succeeded.
func (s *MeetingService) afterCommit(ctx context.Context, actor Actor, meeting *models.Meeting) *models.Meeting {
	if s.syncer == nil {
		return meeting
	}

	synced, err := s.syncer.SyncMeeting(ctx, actor.UserID, meeting.ID)
	switch {
	case err == nil && synced != nil:
		return synced
	case errors.Is(err, ErrCredentialNotFound), errors.Is(err, calendar.ErrNotConfigured):
		s.log.Debug("skip calendar push", zap.String("meeting_id", meeting.ID), zap.Error(err))
	case err != nil:
		s.log.Warn("calendar push failed; meeting left unsynced",
			zap.String("meeting_id", meeting.ID),
			zap.Error(err),
		)
	}
	return meeting
}

func buildInvitations(tx *gorm.DB, meetingID string, emails []string) ([]models.Invitation, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	var users []models.User
	if err := tx.Where("email IN ?", emails).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("resolve invitees: %w", err)
	}
	known := make(map[string]string, len(users))
	for _, user := range users {
		known[normaliseEmail(user.Email)] = user.ID
	}

	invitations := make([]models.Invitation, 0, len(emails))
	for _, email := range emails {
		token, err := crypto.GenerateToken(defaultInvitationTokenN)
		if err != nil {
			return nil, fmt.Errorf("generate invitation token: %w", err)
		}
		inv := models.Invitation{
			Token:     token,
			MeetingID: meetingID,
			Email:     email,
			Status:    models.InvitationPending,
		}
		if userID, ok := known[email]; ok {
			id := userID
			inv.InviteeID = &id
		}
		invitations = append(invitations, inv)
	}
	return invitations, nil
}

// mergeUpdate applies input onto meeting and returns the column changes to persist.
func mergeUpdate(meeting *models.Meeting, input UpdateMeetingInput) (map[string]any, error) {
	changes := map[string]any{}

	if input.Title != nil {
		title, err := validateTitle(*input.Title)
		if err != nil {
			return nil, err
		}
		if title != meeting.Title {
			meeting.Title = title
			changes["title"] = title
		}
	}
	if input.Description != nil {
		description, err := validateDescription(*input.Description)
		if err != nil {
			return nil, err
		}
		if description != meeting.Description {
			meeting.Description = description
			changes["description"] = description
		}
	}

	start, end := meeting.StartTime, meeting.EndTime
	if input.StartTime != nil {
		start = *input.StartTime
	}
	if input.EndTime != nil {
		end = *input.EndTime
	}
	if input.StartTime != nil || input.EndTime != nil {
		validStart, validEnd, err := validateInterval(start, end)
		if err != nil {
			return nil, err
		}
		if !validStart.Equal(meeting.StartTime) {
			meeting.StartTime = validStart
			changes["start_time"] = validStart
		}
		if !validEnd.Equal(meeting.EndTime) {
			meeting.EndTime = validEnd
			changes["end_time"] = validEnd
		}
	}

	if input.ColorTag != nil {
		color, err := normaliseColorTag(*input.ColorTag)
		if err != nil {
			return nil, err
		}
		if color != meeting.ColorTag {
			meeting.ColorTag = color
			changes["color_tag"] = color
		}
	}

	switch {
	case input.ClearReminder:
		if meeting.ReminderLeadMinutes != nil {
			meeting.ReminderLeadMinutes = nil
			changes["reminder_lead_minutes"] = nil
		}
	case input.ReminderLeadMinutes != nil:
		if err := validateReminderLead(input.ReminderLeadMinutes); err != nil {
			return nil, err
		}
		if meeting.ReminderLeadMinutes == nil || *meeting.ReminderLeadMinutes != *input.ReminderLeadMinutes {
			meeting.ReminderLeadMinutes = cloneInt(input.ReminderLeadMinutes)
			changes["reminder_lead_minutes"] = *input.ReminderLeadMinutes
		}
	}

	return changes, nil
}

func canView(meeting *models.Meeting, actor Actor) bool {
	if meeting.OrganizerID == actor.UserID && actor.UserID != "" {
		return true
	}
	for i := range meeting.Invitations {
		if meeting.Invitations[i].AddressedTo(actor.UserID, actor.Email) {
			return true
		}
	}
	return false
}

func validateTitle(value string) (string, error) {
	title := strings.TrimSpace(value)
	if title == "" {
		return "", invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", invalid("title", "must be at most %d characters", maxTitleLength)
	}
	return title, nil
}

func validateDescription(value string) (string, error) {
	description := strings.TrimSpace(value)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return "", invalid("description", "must be at most %d characters", maxDescriptionLength)
	}
	return description, nil
}

func validateInterval(start, end time.Time) (time.Time, time.Time, error) {
	if start.IsZero() {
		return start, end, invalid("start_time", "is required")
	}
	if end.IsZero() {
		return start, end, invalid("end_time", "is required")
	}
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return start, end, invalid("end_time", "must be after start_time")
	}
	return start, end, nil
}

func normaliseColorTag(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if !validator.IsColorTag(value) {
		return "", invalid("color_tag", "must be a six digit hex colour")
	}
	if !strings.HasPrefix(value, "#") {
		value = "#" + value
	}
	return value, nil
}

func validateReminderLead(value *int) error {
	if value == nil {
		return nil
	}
	if *value < minReminderLeadMinutes || *value > maxReminderLeadMinutes {
		return invalid("reminder_lead_minutes", "must be between %d and %d", minReminderLeadMinutes, maxReminderLeadMinutes)
	}
	return nil
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
