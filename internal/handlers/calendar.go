package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/internal/services"
	"github.com/charlesng35/syncmeet/pkg/errors"
	"github.com/charlesng35/syncmeet/pkg/response"
)

// CalendarHandler exposes the external calendar connection and reconciliation endpoints.
type CalendarHandler struct {
	connections *services.CalendarConnectionService
	reconciler  services.Reconciler
	clientURL   string
}

// NewCalendarHandler constructs a calendar handler. When clientURL is set the OAuth callback
// redirects the browser back to it instead of returning JSON.
func NewCalendarHandler(connections *services.CalendarConnectionService, reconciler services.Reconciler, clientURL string) *CalendarHandler {
	return &CalendarHandler{
		connections: connections,
		reconciler:  reconciler,
		clientURL:   strings.TrimRight(strings.TrimSpace(clientURL), "/"),
	}
}

// Authorize returns the consent URL for the caller.
func (h *CalendarHandler) Authorize(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	authURL, err := h.connections.AuthorizeURL(requestContext(c), actor)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"url": authURL})
}

// Callback completes the OAuth flow. The caller's identity travels in the signed state.
func (h *CalendarHandler) Callback(c *gin.Context) {
	if denied := strings.TrimSpace(c.Query("error")); denied != "" {
		h.finishCallback(c, errors.NewBadRequest("calendar authorisation was not granted: "+denied))
		return
	}

	cred, err := h.connections.HandleCallback(requestContext(c), c.Query("code"), c.Query("state"))
	if err != nil {
		h.finishCallback(c, toAppError(err))
		return
	}

	if h.clientURL != "" {
		c.Redirect(http.StatusFound, h.clientURL+"/settings/calendar?status=connected")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"connected": true, "owner_email": cred.OwnerEmail})
}

func (h *CalendarHandler) finishCallback(c *gin.Context, appErr *errors.AppError) {
	if h.clientURL == "" {
		response.Error(c, appErr)
		return
	}
	query := url.Values{}
	query.Set("status", "error")
	query.Set("code", appErr.Code)
	c.Redirect(http.StatusFound, h.clientURL+"/settings/calendar?"+query.Encode())
}

// Status reports the caller's calendar connection.
func (h *CalendarHandler) Status(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	status, err := h.connections.Status(requestContext(c), actor)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// Reconcile runs a two-way sync for the caller and returns its report.
func (h *CalendarHandler) Reconcile(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	if h.reconciler == nil {
		response.Error(c, errCalendarNotConfigured)
		return
	}

	report, err := h.reconciler.Reconcile(requestContext(c), actor.Email, models.SyncTriggerManual)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}
