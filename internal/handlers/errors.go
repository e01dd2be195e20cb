package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/services"
	appErrors "github.com/charlesng35/syncmeet/pkg/errors"
	"github.com/charlesng35/syncmeet/pkg/response"
)

var (
	errCalendarNotConfigured = appErrors.New("CALENDAR_NOT_CONFIGURED", "Calendar integration is not enabled", http.StatusServiceUnavailable)
	errCalendarNotConnected  = appErrors.New("CALENDAR_NOT_CONNECTED", "Connect a calendar first", http.StatusBadRequest)
)

// renderError maps service errors onto API errors and writes the response.
func renderError(c *gin.Context, err error) {
	response.Error(c, toAppError(err))
}

func toAppError(err error) *appErrors.AppError {
	var appErr *appErrors.AppError
	var vErr *services.ValidationError

	switch {
	case err == nil:
		return appErrors.ErrInternalServer
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &vErr):
		return appErrors.NewBadRequest(vErr.Error()).WithInternal(err)
	case errors.Is(err, services.ErrScheduleConflict):
		return appErrors.ErrConflict.WithInternal(err)
	case errors.Is(err, services.ErrForbidden):
		return appErrors.ErrForbidden.WithInternal(err)
	case errors.Is(err, services.ErrMeetingNotFound):
		return appErrors.ErrNotFound.WithMessage("Meeting not found").WithInternal(err)
	case errors.Is(err, services.ErrInvitationNotFound):
		return appErrors.ErrNotFound.WithMessage("Invitation not found").WithInternal(err)
	case errors.Is(err, services.ErrUserNotFound):
		return appErrors.ErrNotFound.WithMessage("User not found").WithInternal(err)
	case errors.Is(err, services.ErrCredentialNotFound):
		return errCalendarNotConnected.WithInternal(err)
	case errors.Is(err, calendar.ErrNotConfigured):
		return errCalendarNotConfigured.WithInternal(err)
	case errors.Is(err, services.ErrExternalCalendar):
		return appErrors.ErrExternalService.WithInternal(err)
	default:
		return appErrors.ErrStoreUnavailable.WithInternal(err)
	}
}
