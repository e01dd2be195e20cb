package models

import (
	"strings"
	"time"
)

// InvitationStatus captures the response state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

// ParseInvitationStatus normalises a client supplied status.
func ParseInvitationStatus(value string) (InvitationStatus, bool) {
	switch InvitationStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case InvitationPending:
		return InvitationPending, true
	case InvitationAccepted:
		return InvitationAccepted, true
	case InvitationDeclined:
		return InvitationDeclined, true
	default:
		return "", false
	}
}

// IsResponse reports whether the status is one an invitee may answer with.
func (s InvitationStatus) IsResponse() bool {
	return s == InvitationAccepted || s == InvitationDeclined
}

// Invitation asks one email address to attend one meeting. InviteeID is set when the address
// belongs to a known user, either at creation time or when that user first responds.
type Invitation struct {
	BaseModel

	Token     string  `gorm:"size:64;not null;uniqueIndex" json:"token"`
	MeetingID string  `gorm:"size:36;not null;uniqueIndex:idx_invitation_meeting_email,priority:1" json:"meeting_id"`
	InviteeID *string `gorm:"size:36;index" json:"invitee_id,omitempty"`
	Email     string  `gorm:"size:320;not null;index;uniqueIndex:idx_invitation_meeting_email,priority:2" json:"email"`

	Status       InvitationStatus `gorm:"size:16;not null;default:PENDING;index" json:"status"`
	ReminderSent bool             `gorm:"not null;default:false" json:"reminder_sent"`
	RespondedAt  *time.Time       `json:"responded_at,omitempty"`

	Meeting *Meeting `gorm:"constraint:OnDelete:CASCADE" json:"meeting,omitempty"`
}

// AddressedTo reports whether the invitation names the given user by id or email.
func (i *Invitation) AddressedTo(userID, email string) bool {
	if i == nil {
		return false
	}
	if i.InviteeID != nil && userID != "" && *i.InviteeID == userID {
		return true
	}
	return email != "" && strings.EqualFold(strings.TrimSpace(i.Email), strings.TrimSpace(email))
}
