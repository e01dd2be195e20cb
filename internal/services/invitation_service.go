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
)

// respondAttempts bounds retries when a concurrent response changes the row under us.
const respondAttempts = 3

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InvitationOverview groups the invitations a user sent and received.
type InvitationOverview struct {
	Sent     []models.Invitation `json:"sent"`
	Received []models.Invitation `json:"received"`
}

// InvitationService drives the invitation state machine: PENDING moves to ACCEPTED or
// DECLINED. A repeated response with the same status is a no-op; a response with the opposite
// status replaces the previous one.
type InvitationService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewInvitationService constructs an InvitationService.
func NewInvitationService(db *gorm.DB, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}

	service := &InvitationService{
		db:  db,
		now: time.Now,
		log: logger.WithModule("invitations"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Respond records the actor's answer to the invitation identified by token.
//
// The status change is a conditional update on the status observed when the row was read, so
// it never interleaves with a reminder flip into a state neither writer saw.
func (s *InvitationService) Respond(ctx context.Context, actor Actor, token, status string) (*models.Invitation, error) {
	actor = actor.normalised()

	next, ok := models.ParseInvitationStatus(status)
	if !ok || !next.IsResponse() {
		return nil, invalid("status", "must be ACCEPTED or DECLINED")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invalid("token", "is required")
	}

	for attempt := 0; attempt < respondAttempts; attempt++ {
		invitation, err := s.loadByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if !invitation.AddressedTo(actor.UserID, actor.Email) {
			return nil, ErrForbidden
		}
		if invitation.Meeting == nil {
			return nil, ErrMeetingNotFound
		}
		if invitation.Meeting.Archived {
			return nil, invalid("meeting", "cannot respond to an archived meeting")
		}
		if invitation.Status == next {
			return invitation, nil
		}

		now := s.now().UTC()
		changes := map[string]any{
			"status":       next,
			"responded_at": now,
		}
		if invitation.InviteeID == nil && actor.UserID != "" {
			changes["invitee_id"] = actor.UserID
		}

		result := s.db.WithContext(ctx).
			Model(&models.Invitation{}).
			Where("id = ? AND status = ?", invitation.ID, invitation.Status).
			Updates(changes)
		if result.Error != nil {
			return nil, fmt.Errorf("invitation service: update status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}

		s.log.Info("invitation answered",
			zap.String("invitation_id", invitation.ID),
			zap.String("meeting_id", invitation.MeetingID),
			zap.String("from", string(invitation.Status)),
			zap.String("to", string(next)),
		)

		invitation.Status = next
		invitation.RespondedAt = &now
		if id, ok := changes["invitee_id"].(string); ok {
			invitation.InviteeID = &id
		}
		return invitation, nil
	}

	return nil, fmt.Errorf("invitation service: response for %s kept changing concurrently", token)
}

// ListForUser returns invitations addressed to the actor and those on meetings they organise.
func (s *InvitationService) ListForUser(ctx context.Context, actor Actor) (*InvitationOverview, error) {
	actor = actor.normalised()
	if !actor.valid() {
		return nil, ErrForbidden
	}

	db := s.db.WithContext(ctx)
	overview := &InvitationOverview{
		Sent:     []models.Invitation{},
		Received: []models.Invitation{},
	}

	if err := db.
		Where("invitee_id = ? OR email = ?", actor.UserID, actor.Email).
		Preload("Meeting").
		Order("created_at DESC").
		Find(&overview.Received).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list received: %w", err)
	}

	organised := db.Model(&models.Meeting{}).Select("id").Where("organizer_id = ?", actor.UserID)
	if err := db.
		Where("meeting_id IN (?)", organised).
		Preload("Meeting").
		Order("created_at DESC").
		Find(&overview.Sent).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list sent: %w", err)
	}

	return overview, nil
}

func (s *InvitationService) loadByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var invitation models.Invitation
	err := s.db.WithContext(ctx).
		Preload("Meeting").
		Take(&invitation, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("invitation service: find invitation: %w", err)
	}
	return &invitation, nil
}
