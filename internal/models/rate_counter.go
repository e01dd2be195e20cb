package models

import "time"

// RateCounter holds a fixed-window request count shared between server instances.
type RateCounter struct {
	Bucket    string    `gorm:"primaryKey;size:256"`
	Count     int64     `gorm:"not null;default:0"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
