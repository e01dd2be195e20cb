package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/services"
	appErrors "github.com/charlesng35/syncmeet/pkg/errors"
)

func TestToAppError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Field: "title", Message: "is required"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"conflict", fmt.Errorf("create: %w", services.ErrScheduleConflict), http.StatusConflict, "SCHEDULE_CONFLICT"},
		{"forbidden", services.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"meeting", services.ErrMeetingNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"invitation", services.ErrInvitationNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"credential", services.ErrCredentialNotFound, http.StatusBadRequest, "CALENDAR_NOT_CONNECTED"},
		{"not configured", calendar.ErrNotConfigured, http.StatusServiceUnavailable, "CALENDAR_NOT_CONFIGURED"},
		{"external", fmt.Errorf("%w: create event: %w", services.ErrExternalCalendar, context.DeadlineExceeded), http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR"},
		{"app error", appErrors.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"store", errors.New("database is locked"), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			appErr := toAppError(tc.err)
			require.Equal(t, tc.status, appErr.StatusCode)
			require.Equal(t, tc.code, appErr.Code)
		})
	}
}

func TestFormatValidationError(t *testing.T) {
	err := formatValidationError(errors.New("boom"))
	require.Equal(t, "invalid request payload", err)
}
