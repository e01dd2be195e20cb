package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncTrigger names what started a reconciliation.
type SyncTrigger string

const (
	SyncTriggerAuthorize SyncTrigger = "authorize"
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerCLI       SyncTrigger = "cli"
)

// SyncRun records the outcome of one reconciliation between the store and an external calendar.
type SyncRun struct {
	BaseModel

	OwnerEmail string      `gorm:"size:320;not null;index" json:"owner_email"`
	Trigger    SyncTrigger `gorm:"size:16;not null" json:"trigger"`

	Pushed  int `json:"pushed"`
	Pulled  int `json:"pulled"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Failures is a JSON array of {meeting_id|event_id, error} objects.
	Failures datatypes.JSON `json:"failures,omitempty"`

	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
