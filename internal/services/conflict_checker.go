package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/models"
)

// ConflictChecker decides whether a proposed interval overlaps an existing commitment.
//
// A commitment is a non-archived meeting the user organises, or one they hold an ACCEPTED
// invitation to. Intervals are half-open, so a meeting ending at 10:00 does not conflict with
// one starting at 10:00. Pending invitations are not commitments.
type ConflictChecker struct {
	db *gorm.DB
}

// NewConflictChecker constructs a ConflictChecker.
func NewConflictChecker(db *gorm.DB) (*ConflictChecker, error) {
	if db == nil {
		return nil, errors.New("conflict checker: db is required")
	}
	return &ConflictChecker{db: db}, nil
}

// HasConflict reports whether [start, end) overlaps a commitment of the user. excludeMeetingID
// omits the meeting being edited.
func (c *ConflictChecker) HasConflict(ctx context.Context, userID, email string, start, end time.Time, excludeMeetingID string) (bool, error) {
	return hasConflict(c.db.WithContext(ctx), userID, email, start, end, excludeMeetingID)
}

// hasConflict runs against db, which may be a transaction.
func hasConflict(db *gorm.DB, userID, email string, start, end time.Time, excludeMeetingID string) (bool, error) {
	email = normaliseEmail(email)
	if userID == "" && email == "" {
		return false, nil
	}

	query := db.Model(&models.Meeting{}).
		Where("archived = ?", false).
		Where("start_time < ? AND end_time > ?", end.UTC(), start.UTC()).
		Where("(organizer_id = ? OR id IN (?))",
			userID,
			invitedMeetingIDs(db.Session(&gorm.Session{NewDB: true}), userID, email, models.InvitationAccepted),
		)
	if excludeMeetingID != "" {
		query = query.Where("id <> ?", excludeMeetingID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("conflict checker: query: %w", err)
	}
	return count > 0, nil
}
