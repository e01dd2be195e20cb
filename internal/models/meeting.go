package models

import "time"

// Meeting is a booked interval owned by its organiser.
//
// Archived only ever moves from false to true. ExternalEventID links the meeting to an event in
// the organiser's external calendar; once set it is never pointed at a different event.
type Meeting struct {
	BaseModel

	OrganizerID    string `gorm:"size:36;not null;index;uniqueIndex:idx_meeting_owner_external,priority:1" json:"organizer_id"`
	OrganizerEmail string `gorm:"size:320;not null;index" json:"organizer_email"`

	Title       string    `gorm:"size:200;not null" json:"title"`
	Description string    `gorm:"size:4000" json:"description"`
	StartTime   time.Time `gorm:"not null;index" json:"start_time"`
	EndTime     time.Time `gorm:"not null;index" json:"end_time"`
	ColorTag    string    `gorm:"size:7" json:"color_tag,omitempty"`

	ReminderLeadMinutes   *int `json:"reminder_lead_minutes,omitempty"`
	OrganizerReminderSent bool `gorm:"not null;default:false" json:"organizer_reminder_sent"`

	Archived        bool    `gorm:"not null;default:false;index" json:"archived"`
	ExternalEventID *string `gorm:"size:1024;uniqueIndex:idx_meeting_owner_external,priority:2" json:"external_event_id,omitempty"`

	Invitations []Invitation `gorm:"constraint:OnDelete:CASCADE" json:"invitations,omitempty"`
}

// ReminderDueAt returns the instant the reminder becomes due and whether the meeting has one.
func (m *Meeting) ReminderDueAt() (time.Time, bool) {
	if m == nil || m.ReminderLeadMinutes == nil {
		return time.Time{}, false
	}
	return m.StartTime.Add(-time.Duration(*m.ReminderLeadMinutes) * time.Minute), true
}

// IsSynced reports whether the meeting is linked to an external calendar event.
func (m *Meeting) IsSynced() bool {
	return m != nil && m.ExternalEventID != nil && *m.ExternalEventID != ""
}
