package models

import "time"

// CalendarCredential holds the OAuth tokens a user granted for their external calendar.
// There is at most one row per owner; it is rewritten whenever tokens are refreshed.
type CalendarCredential struct {
	BaseModel

	OwnerEmail        string `gorm:"size:320;uniqueIndex;not null" json:"owner_email"`
	AccessToken       string `gorm:"size:4096;not null" json:"-"`
	RefreshToken      string `gorm:"size:4096" json:"-"`
	Scope             string `gorm:"size:1024" json:"scope,omitempty"`
	TokenType         string `gorm:"size:32" json:"token_type,omitempty"`
	ExpiryEpochMillis int64  `json:"expiry_epoch_millis"`
}

// Expiry converts the stored epoch millis into a time, zero when unknown.
func (c *CalendarCredential) Expiry() time.Time {
	if c == nil || c.ExpiryEpochMillis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryEpochMillis)
}
