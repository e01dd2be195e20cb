package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/syncmeet/internal/models"
)

type reminderFixture struct {
	meetings *MeetingService
	alice    Actor
	bob      Actor
	meeting  *models.Meeting
}

// newReminderFixture books a 10:00 meeting with a 30 minute lead that bob has accepted, so
// reminders are due from 09:30.
func newReminderFixture(t *testing.T) reminderFixture {
	t.Helper()
	meetings, _ := newMeetingService(t)
	ctx := context.Background()

	alice := seedUser(t, meetings.db, "alice@example.com")
	bob := seedUser(t, meetings.db, "bob@example.com")

	meeting, err := meetings.Create(ctx, alice, CreateMeetingInput{
		Title:               "Standup",
		StartTime:           at(10, 0),
		EndTime:             at(10, 30),
		ReminderLeadMinutes: intPtr(30),
		Invitees:            []string{bob.Email, "carol@example.com"},
	})
	require.NoError(t, err)

	invitations, err := NewInvitationService(meetings.db)
	require.NoError(t, err)
	for _, inv := range meeting.Invitations {
		if inv.Email == bob.Email {
			_, err := invitations.Respond(ctx, bob, inv.Token, "ACCEPTED")
			require.NoError(t, err)
		}
	}

	return reminderFixture{meetings: meetings, alice: alice, bob: bob, meeting: meeting}
}

func TestReminderDispatcherDueWindow(t *testing.T) {
	fx := newReminderFixture(t)
	sender := &recordingSender{}
	current := at(9, 29)

	dispatcher, err := NewReminderDispatcher(fx.meetings.db, sender, WithReminderClock(func() time.Time { return current }))
	require.NoError(t, err)
	ctx := context.Background()

	stats, err := dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Due)
	require.Empty(t, sender.deliveries())

	current = at(9, 30)
	stats, err = dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Due)
	require.Equal(t, 2, stats.Sent)
	require.ElementsMatch(t, []string{
		fx.meeting.ID + "|alice@example.com",
		fx.meeting.ID + "|bob@example.com",
	}, sender.deliveries())

	current = at(9, 31)
	stats, err = dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Sent)
	require.Len(t, sender.deliveries(), 2)

	var meeting models.Meeting
	require.NoError(t, fx.meetings.db.Preload("Invitations").Take(&meeting, "id = ?", fx.meeting.ID).Error)
	require.True(t, meeting.OrganizerReminderSent)
	for _, inv := range meeting.Invitations {
		require.Equal(t, inv.Status == models.InvitationAccepted, inv.ReminderSent, inv.Email)
	}
}

func TestReminderDispatcherSkipsStartedAndArchived(t *testing.T) {
	fx := newReminderFixture(t)
	sender := &recordingSender{}
	ctx := context.Background()

	started, err := NewReminderDispatcher(fx.meetings.db, sender, WithReminderClock(fixedClock(at(10, 0))))
	require.NoError(t, err)
	stats, err := started.Dispatch(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Due)

	_, err = fx.meetings.Archive(ctx, fx.alice, fx.meeting.ID)
	require.NoError(t, err)

	due, err := NewReminderDispatcher(fx.meetings.db, sender, WithReminderClock(fixedClock(at(9, 45))))
	require.NoError(t, err)
	stats, err = due.Dispatch(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Due)
	require.Empty(t, sender.deliveries())
}

func TestReminderDispatcherConcurrentTicksSendOnce(t *testing.T) {
	fx := newReminderFixture(t)
	sender := &recordingSender{}
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		dispatcher, err := NewReminderDispatcher(fx.meetings.db, sender, WithReminderClock(fixedClock(at(9, 40))))
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dispatcher.Dispatch(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	deliveries := sender.deliveries()
	require.Len(t, deliveries, 2)
	require.ElementsMatch(t, []string{
		fx.meeting.ID + "|alice@example.com",
		fx.meeting.ID + "|bob@example.com",
	}, deliveries)
}

func TestReminderDispatcherDoesNotRetryFailedSend(t *testing.T) {
	fx := newReminderFixture(t)
	sender := &recordingSender{err: errors.New("smtp down")}
	ctx := context.Background()

	dispatcher, err := NewReminderDispatcher(fx.meetings.db, sender, WithReminderClock(fixedClock(at(9, 35))))
	require.NoError(t, err)

	stats, err := dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Failed)

	sender.err = nil
	stats, err = dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Sent)
	require.Empty(t, sender.deliveries())
}

func TestReminderDispatcherIgnoresMeetingsWithoutLead(t *testing.T) {
	meetings, _ := newMeetingService(t)
	ctx := context.Background()
	alice := seedUser(t, meetings.db, "alice@example.com")

	_, err := meetings.Create(ctx, alice, CreateMeetingInput{Title: "No reminder", StartTime: at(10, 0), EndTime: at(11, 0)})
	require.NoError(t, err)

	sender := &recordingSender{}
	dispatcher, err := NewReminderDispatcher(meetings.db, sender, WithReminderClock(fixedClock(at(9, 59))))
	require.NoError(t, err)

	stats, err := dispatcher.Dispatch(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Due)
}

func TestReminderDueBoundaries(t *testing.T) {
	meeting := &models.Meeting{StartTime: at(10, 0), ReminderLeadMinutes: intPtr(30)}

	require.False(t, reminderDue(meeting, at(9, 29)))
	require.True(t, reminderDue(meeting, at(9, 30)))
	require.True(t, reminderDue(meeting, at(9, 59)))
	require.False(t, reminderDue(meeting, at(10, 0)))

	meeting.ReminderLeadMinutes = nil
	require.False(t, reminderDue(meeting, at(9, 45)))
}
