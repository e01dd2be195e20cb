package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/database/testutil"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/mail"
)

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func seedUser(t *testing.T, db *gorm.DB, email string) Actor {
	t.Helper()
	user := &models.User{Email: email, Name: email}
	require.NoError(t, db.Create(user).Error)
	return Actor{UserID: user.ID, Email: user.Email, Name: user.Name}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func intPtr(v int) *int { return &v }

type fakeMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *fakeMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) SendReminder(_ context.Context, meeting *models.Meeting, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, meeting.ID+"|"+to)
	return nil
}

func (r *recordingSender) deliveries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// fakeCalendar is an in-memory external calendar acting as both Provider and Client.
type fakeCalendar struct {
	mu        sync.Mutex
	events    []calendar.Event
	updates   map[string]calendar.EventPayload
	nextID    int
	createErr error
	listErr   error
	token     *oauth2.Token
	refreshed *oauth2.Token
	creates   int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		updates: map[string]calendar.EventPayload{},
		token: &oauth2.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (f *fakeCalendar) AuthorizeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f *fakeCalendar) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if code == "bad-code" {
		return nil, errors.New("invalid_grant")
	}
	return f.token, nil
}

func (f *fakeCalendar) Client(ctx context.Context, _ *models.CalendarCredential, onRefresh calendar.TokenRefreshFunc) (calendar.Client, error) {
	if f.refreshed != nil && onRefresh != nil {
		if err := onRefresh(ctx, f.refreshed); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, payload calendar.EventPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	f.creates++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events = append(f.events, calendar.Event{
		ID:          id,
		Title:       payload.Title,
		Description: payload.Description,
		Start:       payload.Start,
		End:         payload.End,
		Attendees:   payload.Attendees,
		MeetingID:   payload.MeetingID,
	})
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID string, payload calendar.EventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == eventID {
			f.events[i].Title = payload.Title
			f.events[i].Start = payload.Start
			f.events[i].End = payload.End
			f.updates[eventID] = payload
			return nil
		}
	}
	return errors.New("event not found")
}

func (f *fakeCalendar) ListEvents(_ context.Context, since time.Time) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]calendar.Event, 0, len(f.events))
	for _, event := range f.events {
		if event.End.After(since) {
			out = append(out, event)
		}
	}
	return out, nil
}

// addExternal inserts an event created outside syncmeet.
func (f *fakeCalendar) addExternal(event calendar.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeCalendar) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func connectCalendar(t *testing.T, db *gorm.DB, email string) {
	t.Helper()
	_, err := upsertCredential(context.Background(), db, email, &oauth2.Token{
		AccessToken:  "access-seed",
		RefreshToken: "refresh-seed",
		TokenType:    "Bearer",
	})
	require.NoError(t, err)
}
