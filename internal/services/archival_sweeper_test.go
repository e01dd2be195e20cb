package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/syncmeet/internal/models"
)

func TestArchivalSweeperArchivesElapsedMeetings(t *testing.T) {
	meetings, _ := newMeetingService(t)
	ctx := context.Background()
	alice := seedUser(t, meetings.db, "alice@example.com")

	first, err := meetings.Create(ctx, alice, CreateMeetingInput{Title: "First", StartTime: at(9, 0), EndTime: at(10, 0)})
	require.NoError(t, err)
	second, err := meetings.Create(ctx, alice, CreateMeetingInput{Title: "Second", StartTime: at(11, 0), EndTime: at(12, 0)})
	require.NoError(t, err)

	current := at(10, 0)
	sweeper, err := NewArchivalSweeper(meetings.db, WithSweeperClock(func() time.Time { return current }))
	require.NoError(t, err)

	// a meeting ending exactly now has not elapsed yet
	count, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	current = at(10, 1)
	count, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	var stored models.Meeting
	require.NoError(t, meetings.db.Take(&stored, "id = ?", first.ID).Error)
	require.True(t, stored.Archived)
	require.NoError(t, meetings.db.Take(&stored, "id = ?", second.ID).Error)
	require.False(t, stored.Archived)
}

func TestConflictCheckerHalfOpenIntervals(t *testing.T) {
	meetings, _ := newMeetingService(t)
	ctx := context.Background()
	alice := seedUser(t, meetings.db, "alice@example.com")

	meeting, err := meetings.Create(ctx, alice, CreateMeetingInput{Title: "Slot", StartTime: at(10, 0), EndTime: at(11, 0)})
	require.NoError(t, err)

	checker, err := NewConflictChecker(meetings.db)
	require.NoError(t, err)

	conflict, err := checker.HasConflict(ctx, alice.UserID, alice.Email, at(11, 0), at(12, 0), "")
	require.NoError(t, err)
	require.False(t, conflict)

	conflict, err = checker.HasConflict(ctx, alice.UserID, alice.Email, at(10, 59), at(12, 0), "")
	require.NoError(t, err)
	require.True(t, conflict)

	conflict, err = checker.HasConflict(ctx, alice.UserID, alice.Email, at(10, 0), at(11, 0), meeting.ID)
	require.NoError(t, err)
	require.False(t, conflict)

	conflict, err = checker.HasConflict(ctx, "someone-else", "else@example.com", at(10, 0), at(11, 0), "")
	require.NoError(t, err)
	require.False(t, conflict)
}
