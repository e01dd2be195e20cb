package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/charlesng35/syncmeet/internal/models"
)

const icsProductID = "-//syncmeet//scheduler//EN"

// ICSOptions tunes the exported calendar object.
type ICSOptions struct {
	// Method is written as the VCALENDAR METHOD, e.g. REQUEST for invitation emails.
	Method string
	Now    time.Time
}

// ICS renders a meeting as an iCalendar document with a single VEVENT. The UID is the
// meeting id so re-sent invitations update the same entry in the recipient's client.
func ICS(meeting *models.Meeting, opts ICSOptions) ([]byte, error) {
	if meeting == nil {
		return nil, errors.New("ics: meeting is nil")
	}
	if meeting.ID == "" {
		return nil, errors.New("ics: meeting id is required")
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icsProductID)
	if method := strings.ToUpper(strings.TrimSpace(opts.Method)); method != "" {
		cal.Props.SetText(ical.PropMethod, method)
	}

	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, meeting.ID)
	event.Props.SetText(ical.PropSummary, meeting.Title)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, meeting.StartTime.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, meeting.EndTime.UTC())
	if meeting.Description != "" {
		event.Props.SetText(ical.PropDescription, meeting.Description)
	}
	if meeting.Archived {
		event.Props.SetText(ical.PropStatus, "CANCELLED")
	} else {
		event.Props.SetText(ical.PropStatus, "CONFIRMED")
	}

	if meeting.OrganizerEmail != "" {
		organizer := ical.NewProp(ical.PropOrganizer)
		organizer.SetText("mailto:" + meeting.OrganizerEmail)
		event.Props.Add(organizer)
	}
	for _, inv := range meeting.Invitations {
		attendee := ical.NewProp(ical.PropAttendee)
		attendee.SetText("mailto:" + inv.Email)
		attendee.Params.Set(ical.ParamParticipationStatus, participationStatus(inv.Status))
		attendee.Params.Set(ical.ParamRSVP, "TRUE")
		event.Props.Add(attendee)
	}

	if meeting.ReminderLeadMinutes != nil {
		event.Children = append(event.Children, reminderAlarm(meeting.Title, *meeting.ReminderLeadMinutes))
	}

	cal.Children = append(cal.Children, event)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("ics: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func reminderAlarm(title string, leadMinutes int) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, "Reminder: "+title)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", leadMinutes)
	alarm.Props.Set(trigger)
	return alarm
}

func participationStatus(status models.InvitationStatus) string {
	switch status {
	case models.InvitationAccepted:
		return "ACCEPTED"
	case models.InvitationDeclined:
		return "DECLINED"
	default:
		return "NEEDS-ACTION"
	}
}
