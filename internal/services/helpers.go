package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/validator"
)

// Actor identifies the authenticated user on whose behalf an operation runs.
type Actor struct {
	UserID string
	Email  string
	Name   string
}

func (a Actor) normalised() Actor {
	a.UserID = strings.TrimSpace(a.UserID)
	a.Email = normaliseEmail(a.Email)
	a.Name = strings.TrimSpace(a.Name)
	return a
}

func (a Actor) valid() bool {
	return a.UserID != "" && a.Email != ""
}

func normaliseEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// normaliseEmails lower-cases, trims, and de-duplicates addresses, keeping first-seen order.
func normaliseEmails(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = normaliseEmail(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// validEmail applies the same rule as the HTTP layer's `email` tag.
func validEmail(value string) bool {
	return validator.ValidateVar(value, "required,email") == nil
}

// lockBookings takes a row lock on the user so that conflict checks and inserts for the same
// schedule run one at a time. Actors without a stored user row proceed unlocked.
func lockBookings(tx *gorm.DB, userID string) error {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Take(&user, "id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lock bookings: %w", err)
	}
	return nil
}

// invitedMeetingIDs selects the ids of meetings the user holds an invitation to, optionally
// restricted to the given statuses.
func invitedMeetingIDs(db *gorm.DB, userID, email string, statuses ...models.InvitationStatus) *gorm.DB {
	query := db.Model(&models.Invitation{}).
		Select("meeting_id").
		Where("(invitee_id = ? OR email = ?)", userID, email)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	return query
}

// visibleTo restricts a meeting query to rows the user organises or is invited to. base builds
// the invitation subquery and must not carry conditions of its own.
func visibleTo(query, base *gorm.DB, userID, email string) *gorm.DB {
	return query.Where("(organizer_id = ? OR id IN (?))", userID, invitedMeetingIDs(base, userID, email))
}
