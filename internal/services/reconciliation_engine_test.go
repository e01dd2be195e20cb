package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/models"
)

type reconcileFixture struct {
	meetings *MeetingService
	engine   *ReconciliationEngine
	cal      *fakeCalendar
	alice    Actor
}

func newReconcileFixture(t *testing.T) reconcileFixture {
	t.Helper()
	meetings, _ := newMeetingService(t)
	cal := newFakeCalendar()
	engine, err := NewReconciliationEngine(meetings.db, cal, WithReconcileClock(fixedClock(at(8, 0))))
	require.NoError(t, err)

	alice := seedUser(t, meetings.db, "alice@example.com")
	connectCalendar(t, meetings.db, alice.Email)
	return reconcileFixture{meetings: meetings, engine: engine, cal: cal, alice: alice}
}

func (fx reconcileFixture) bookLocal(t *testing.T, hours ...int) []*models.Meeting {
	t.Helper()
	booked := make([]*models.Meeting, 0, len(hours))
	for _, hour := range hours {
		meeting, err := fx.meetings.Create(context.Background(), fx.alice, CreateMeetingInput{
			Title: "Local", StartTime: at(hour, 0), EndTime: at(hour+1, 0),
		})
		require.NoError(t, err)
		booked = append(booked, meeting)
	}
	return booked
}

func (fx reconcileFixture) addExternalEvents() {
	fx.cal.addExternal(calendar.Event{ID: "ext-a", Title: "Dentist", Start: at(20, 0), End: at(21, 0)})
	fx.cal.addExternal(calendar.Event{ID: "ext-b", Title: "Flight", Start: at(30, 0), End: at(33, 0)})
}

func ownerMeetings(t *testing.T, fx reconcileFixture) []models.Meeting {
	t.Helper()
	var meetings []models.Meeting
	require.NoError(t, fx.meetings.db.Where("organizer_id = ?", fx.alice.UserID).Order("start_time ASC").Find(&meetings).Error)
	return meetings
}

func TestReconcileMergesLocalAndExternal(t *testing.T) {
	fx := newReconcileFixture(t)
	fx.bookLocal(t, 9, 11, 13)
	fx.addExternalEvents()

	report, err := fx.engine.Reconcile(context.Background(), fx.alice.Email, models.SyncTriggerManual)
	require.NoError(t, err)
	require.Equal(t, 3, report.Push.Created)
	require.Equal(t, 2, report.Pull.Created)
	require.Zero(t, report.Push.Failed+report.Pull.Failed)
	require.NotNil(t, report.Run)
	require.Equal(t, 3, report.Run.Pushed)
	require.Equal(t, 2, report.Run.Pulled)

	meetings := ownerMeetings(t, fx)
	require.Len(t, meetings, 5)

	ids := map[string]struct{}{}
	externals := map[string]struct{}{}
	for _, meeting := range meetings {
		ids[meeting.ID] = struct{}{}
		require.True(t, meeting.IsSynced(), meeting.Title)
		externals[*meeting.ExternalEventID] = struct{}{}
	}
	require.Len(t, ids, 5)
	require.Len(t, externals, 5)
	require.Equal(t, 5, fx.cal.eventCount())

	// a second run finds nothing left to do
	report, err = fx.engine.Reconcile(context.Background(), fx.alice.Email, models.SyncTriggerManual)
	require.NoError(t, err)
	require.Zero(t, report.Push.Created)
	require.Zero(t, report.Pull.Created)
	require.Len(t, ownerMeetings(t, fx), 5)
	require.Equal(t, 5, fx.cal.eventCount())
}

func TestReconcileConcurrentRunsDoNotDuplicate(t *testing.T) {
	fx := newReconcileFixture(t)
	fx.bookLocal(t, 9, 11, 13)
	fx.addExternalEvents()

	const runs = 4
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.engine.Reconcile(context.Background(), fx.alice.Email, models.SyncTriggerManual)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	meetings := ownerMeetings(t, fx)
	require.Len(t, meetings, 5)
	externals := map[string]struct{}{}
	for _, meeting := range meetings {
		require.True(t, meeting.IsSynced())
		externals[*meeting.ExternalEventID] = struct{}{}
	}
	require.Len(t, externals, 5)
}

func TestPullPassFiltersEvents(t *testing.T) {
	fx := newReconcileFixture(t)
	local := fx.bookLocal(t, 9)[0]

	fx.cal.addExternal(calendar.Event{ID: "cancelled", Title: "Gone", Start: at(12, 0), End: at(13, 0), Cancelled: true})
	fx.cal.addExternal(calendar.Event{ID: "untitled", Start: at(12, 0), End: at(13, 0)})
	fx.cal.addExternal(calendar.Event{ID: "backwards", Title: "Odd", Start: at(13, 0), End: at(12, 0)})
	fx.cal.addExternal(calendar.Event{ID: "orphan", Title: "Local", Start: at(9, 0), End: at(10, 0), MeetingID: local.ID})
	fx.cal.addExternal(calendar.Event{ID: "past", Title: "Retro", Start: at(-48, 0), End: at(-47, 0)})
	fx.cal.addExternal(calendar.Event{ID: "ancient", Title: "Too old", Start: at(-24*60, 0), End: at(-24*60+1, 0)})

	result, err := fx.engine.PullPass(context.Background(), fx.alice.Email)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	require.Equal(t, 3, result.Skipped)

	var imported models.Meeting
	require.NoError(t, fx.meetings.db.Take(&imported, "external_event_id = ?", "past").Error)
	require.True(t, imported.Archived)
	require.Equal(t, fx.alice.UserID, imported.OrganizerID)
	require.Equal(t, fx.alice.Email, imported.OrganizerEmail)

	again, err := fx.engine.PullPass(context.Background(), fx.alice.Email)
	require.NoError(t, err)
	require.Zero(t, again.Created)
}

func TestPullPassSkipsEventsOfInvitedMeetings(t *testing.T) {
	fx := newReconcileFixture(t)
	ctx := context.Background()
	bob := seedUser(t, fx.meetings.db, "bob@example.com")
	connectCalendar(t, fx.meetings.db, bob.Email)

	meeting, err := fx.meetings.Create(ctx, fx.alice, CreateMeetingInput{
		Title: "Planning", StartTime: at(10, 0), EndTime: at(11, 0), Invitees: []string{bob.Email},
	})
	require.NoError(t, err)
	synced, err := fx.engine.SyncMeeting(ctx, fx.alice.UserID, meeting.ID)
	require.NoError(t, err)
	eventID := *synced.ExternalEventID

	require.NoError(t, fx.meetings.db.Model(&models.Invitation{}).
		Where("meeting_id = ?", meeting.ID).
		Update("status", models.InvitationAccepted).Error)

	// the attendee copy carries the organiser's event id but not the private meeting property
	fx.cal.addExternal(calendar.Event{ID: eventID, Title: "Planning", Start: at(10, 0), End: at(11, 0)})

	result, err := fx.engine.PullPass(ctx, bob.Email)
	require.NoError(t, err)
	require.Zero(t, result.Created)

	var linked int64
	require.NoError(t, fx.meetings.db.Model(&models.Meeting{}).Where("external_event_id = ?", eventID).Count(&linked).Error)
	require.EqualValues(t, 1, linked)

	var bobsOwn int64
	require.NoError(t, fx.meetings.db.Model(&models.Meeting{}).Where("organizer_id = ?", bob.UserID).Count(&bobsOwn).Error)
	require.Zero(t, bobsOwn)
}

func TestPushPassRecordsFailures(t *testing.T) {
	fx := newReconcileFixture(t)
	fx.bookLocal(t, 9, 11)
	fx.cal.createErr = errors.New("quota exceeded")

	report, err := fx.engine.Reconcile(context.Background(), fx.alice.Email, models.SyncTriggerCLI)
	require.NoError(t, err)
	require.Equal(t, 2, report.Push.Failed)
	require.Zero(t, report.Push.Created)

	var run models.SyncRun
	require.NoError(t, fx.meetings.db.Take(&run, "owner_email = ?", fx.alice.Email).Error)
	require.Equal(t, models.SyncTriggerCLI, run.Trigger)
	require.Equal(t, 2, run.Failed)

	var failures []SyncFailure
	require.NoError(t, json.Unmarshal(run.Failures, &failures))
	require.Len(t, failures, 2)
	require.Contains(t, failures[0].Error, "quota exceeded")

	// unsynced meetings are retried on the next run
	fx.cal.createErr = nil
	result, err := fx.engine.PushPass(context.Background(), fx.alice.Email)
	require.NoError(t, err)
	require.Equal(t, 2, result.Created)
}

func TestPullPassListFailureIsReported(t *testing.T) {
	fx := newReconcileFixture(t)
	fx.cal.listErr = errors.New("backend error")

	result, err := fx.engine.PullPass(context.Background(), fx.alice.Email)
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
}

func TestReconcileRequiresCredentialAndProvider(t *testing.T) {
	fx := newReconcileFixture(t)
	bob := seedUser(t, fx.meetings.db, "bob@example.com")

	_, err := fx.engine.Reconcile(context.Background(), bob.Email, models.SyncTriggerManual)
	require.ErrorIs(t, err, ErrCredentialNotFound)

	_, err = fx.engine.Reconcile(context.Background(), "nobody@example.com", models.SyncTriggerManual)
	require.ErrorIs(t, err, ErrUserNotFound)

	disabled, err := NewReconciliationEngine(fx.meetings.db, nil)
	require.NoError(t, err)
	_, err = disabled.Reconcile(context.Background(), fx.alice.Email, models.SyncTriggerManual)
	require.ErrorIs(t, err, calendar.ErrNotConfigured)
}

func TestReconcilePersistsRefreshedToken(t *testing.T) {
	fx := newReconcileFixture(t)
	expiry := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	fx.cal.refreshed = &oauth2.Token{AccessToken: "access-2", TokenType: "Bearer", Expiry: expiry}

	_, err := fx.engine.Reconcile(context.Background(), fx.alice.Email, models.SyncTriggerManual)
	require.NoError(t, err)

	cred, err := loadCredential(context.Background(), fx.meetings.db, fx.alice.Email)
	require.NoError(t, err)
	require.Equal(t, "access-2", cred.AccessToken)
	require.Equal(t, "refresh-seed", cred.RefreshToken)
	require.True(t, cred.Expiry().Equal(expiry))
}

func TestSyncMeeting(t *testing.T) {
	fx := newReconcileFixture(t)
	bob := seedUser(t, fx.meetings.db, "bob@example.com")
	meeting := fx.bookLocal(t, 9)[0]
	ctx := context.Background()

	_, err := fx.engine.SyncMeeting(ctx, bob.UserID, meeting.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = fx.engine.SyncMeeting(ctx, fx.alice.UserID, "missing")
	require.ErrorIs(t, err, ErrMeetingNotFound)

	synced, err := fx.engine.SyncMeeting(ctx, fx.alice.UserID, meeting.ID)
	require.NoError(t, err)
	require.True(t, synced.IsSynced())
	eventID := *synced.ExternalEventID

	again, err := fx.engine.SyncMeeting(ctx, fx.alice.UserID, meeting.ID)
	require.NoError(t, err)
	require.Equal(t, eventID, *again.ExternalEventID)
	require.Equal(t, 1, fx.cal.eventCount())
	require.Contains(t, fx.cal.updates, eventID)

	fx.cal.createErr = errors.New("boom")
	other := fx.bookLocal(t, 11)[0]
	_, err = fx.engine.SyncMeeting(ctx, fx.alice.UserID, other.ID)
	require.ErrorIs(t, err, ErrExternalCalendar)
}

func TestPullWindowStart(t *testing.T) {
	require.Equal(t,
		time.Date(2029, 12, 1, 0, 0, 0, 0, time.UTC),
		pullWindowStart(time.Date(2030, 1, 15, 13, 0, 0, 0, time.UTC)),
	)
	require.Equal(t,
		time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC),
		pullWindowStart(time.Date(2030, 3, 31, 23, 59, 0, 0, time.UTC)),
	)
}
