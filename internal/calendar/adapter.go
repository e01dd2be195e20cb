// Package calendar adapts external calendar services to the scheduling engine. Google Calendar
// is the only provider; the interfaces exist so services can be exercised against fakes.
package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/charlesng35/syncmeet/internal/models"
)

// ErrNotConfigured is returned when the calendar integration has no OAuth client configured.
var ErrNotConfigured = errors.New("calendar: provider not configured")

// MeetingIDProperty is the private extended property linking a pushed event to its meeting.
const MeetingIDProperty = "syncmeetMeetingId"

// EventPayload is the event body written to the external calendar.
type EventPayload struct {
	MeetingID       string
	Title           string
	Description     string
	Start           time.Time
	End             time.Time
	Attendees       []string
	ReminderMinutes *int
}

// Event is an external calendar entry as seen by the reconciliation engine.
type Event struct {
	ID          string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Cancelled   bool
	Attendees   []string
	MeetingID   string
}

// Valid reports whether the event carries enough data to become a meeting.
func (e Event) Valid() bool {
	return !e.Cancelled &&
		strings.TrimSpace(e.ID) != "" &&
		strings.TrimSpace(e.Title) != "" &&
		!e.Start.IsZero() && !e.End.IsZero() &&
		e.Start.Before(e.End)
}

// Client operates on one owner's calendar.
type Client interface {
	CreateEvent(ctx context.Context, payload EventPayload) (string, error)
	UpdateEvent(ctx context.Context, eventID string, payload EventPayload) error
	ListEvents(ctx context.Context, since time.Time) ([]Event, error)
}

// TokenRefreshFunc is invoked synchronously whenever the client obtains a new access token.
type TokenRefreshFunc func(ctx context.Context, token *oauth2.Token) error

// Provider performs the OAuth handshake and builds per-credential clients.
type Provider interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Client(ctx context.Context, cred *models.CalendarCredential, onRefresh TokenRefreshFunc) (Client, error)
}

// TokenFromCredential rebuilds an oauth2 token from a stored credential.
func TokenFromCredential(cred *models.CalendarCredential) *oauth2.Token {
	if cred == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry(),
	}
}

// ApplyToken copies token fields onto a credential. Google omits the refresh token on
// subsequent grants, in which case the stored one is kept.
func ApplyToken(cred *models.CalendarCredential, token *oauth2.Token) {
	if cred == nil || token == nil {
		return
	}
	cred.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}
	if token.TokenType != "" {
		cred.TokenType = token.TokenType
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		cred.Scope = scope
	}
	if token.Expiry.IsZero() {
		cred.ExpiryEpochMillis = 0
	} else {
		cred.ExpiryEpochMillis = token.Expiry.UnixMilli()
	}
}
