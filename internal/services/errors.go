package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrScheduleConflict indicates the requested interval overlaps a commitment of the user.
	ErrScheduleConflict = errors.New("meeting: schedule conflict")
	// ErrMeetingNotFound indicates no meeting matches the identifier.
	ErrMeetingNotFound = errors.New("meeting: not found")
	// ErrInvitationNotFound indicates no invitation matches the token.
	ErrInvitationNotFound = errors.New("invitation: not found")
	// ErrForbidden indicates the actor may not perform the operation on the resource.
	ErrForbidden = errors.New("services: forbidden")
	// ErrCredentialNotFound indicates the user has not connected an external calendar.
	ErrCredentialNotFound = errors.New("calendar: credential not found")
	// ErrExternalCalendar wraps failures reported by the external calendar service.
	ErrExternalCalendar = errors.New("calendar: external service error")
	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserExists indicates the email is already registered.
	ErrUserExists = errors.New("user: already exists")
)

// ValidationError reports invalid caller input. Nothing is written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

func externalError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalCalendar, op, err)
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate")
}
