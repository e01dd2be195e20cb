package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/services"
	"github.com/charlesng35/syncmeet/pkg/errors"
	"github.com/charlesng35/syncmeet/pkg/response"
)

// MeetingHandler exposes meeting booking endpoints.
type MeetingHandler struct {
	meetings *services.MeetingService
	syncer   services.MeetingSyncer
	now      func() time.Time
}

// NewMeetingHandler constructs a meeting handler. A nil syncer disables manual sync.
func NewMeetingHandler(meetings *services.MeetingService, syncer services.MeetingSyncer) *MeetingHandler {
	return &MeetingHandler{meetings: meetings, syncer: syncer, now: time.Now}
}

type createMeetingRequest struct {
	Title               string    `json:"title" validate:"required,max=200"`
	Description         string    `json:"description" validate:"max=4000"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	ColorTag            string    `json:"color_tag" validate:"omitempty,colortag"`
	ReminderLeadMinutes *int      `json:"reminder_lead_minutes" validate:"omitempty,min=1,max=1440"`
	Invitees            []string  `json:"invitees" validate:"omitempty,max=100,dive,email"`
}

type updateMeetingRequest struct {
	Title               *string    `json:"title" validate:"omitempty,max=200"`
	Description         *string    `json:"description" validate:"omitempty,max=4000"`
	StartTime           *time.Time `json:"start_time"`
	EndTime             *time.Time `json:"end_time"`
	ColorTag            *string    `json:"color_tag"`
	ReminderLeadMinutes *int       `json:"reminder_lead_minutes" validate:"omitempty,min=1,max=1440"`
	ClearReminder       bool       `json:"clear_reminder"`
}

// Create books a meeting for the caller.
func (h *MeetingHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req createMeetingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	meeting, err := h.meetings.Create(requestContext(c), actor, services.CreateMeetingInput{
		Title:               req.Title,
		Description:         req.Description,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		ColorTag:            req.ColorTag,
		ReminderLeadMinutes: req.ReminderLeadMinutes,
		Invitees:            req.Invitees,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, meeting)
}

// List returns the caller's active meetings, optionally bounded by from/to.
func (h *MeetingHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	from, err := parseTimeQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}

	meetings, err := h.meetings.List(requestContext(c), actor, services.ListMeetingsFilter{
		From:            from,
		To:              to,
		IncludeArchived: parseBoolQuery(c, "include_archived", false),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, meetings)
}

// ListArchived returns the caller's archived meetings.
func (h *MeetingHandler) ListArchived(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	meetings, err := h.meetings.ListArchived(requestContext(c), actor)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, meetings)
}

// Get returns a meeting visible to the caller.
func (h *MeetingHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	meeting, err := h.meetings.Get(requestContext(c), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, meeting)
}

// Update applies a partial change to a meeting the caller organises.
func (h *MeetingHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req updateMeetingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	meeting, err := h.meetings.Update(requestContext(c), actor, strings.TrimSpace(c.Param("id")), services.UpdateMeetingInput{
		Title:               req.Title,
		Description:         req.Description,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		ColorTag:            req.ColorTag,
		ReminderLeadMinutes: req.ReminderLeadMinutes,
		ClearReminder:       req.ClearReminder,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, meeting)
}

// Archive hides a meeting the caller organises.
func (h *MeetingHandler) Archive(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	meeting, err := h.meetings.Archive(requestContext(c), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, meeting)
}

// ICS downloads the meeting as an iCalendar file.
func (h *MeetingHandler) ICS(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	meeting, err := h.meetings.Get(requestContext(c), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		renderError(c, err)
		return
	}

	data, err := calendar.ICS(meeting, calendar.ICSOptions{Method: "PUBLISH", Now: h.now()})
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="meeting-`+meeting.ID+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", data)
}

// Sync pushes the meeting to the organiser's connected calendar.
func (h *MeetingHandler) Sync(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	if h.syncer == nil {
		response.Error(c, errCalendarNotConfigured)
		return
	}

	meeting, err := h.syncer.SyncMeeting(requestContext(c), actor.UserID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, http.StatusOK, meeting)
}
