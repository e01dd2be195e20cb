package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/logger"
	"github.com/charlesng35/syncmeet/pkg/metrics"
)

const (
	passPush   = "push"
	passPull   = "pull"
	passManual = "manual"
)

// SyncFailure describes one item a reconciliation pass could not process.
type SyncFailure struct {
	MeetingID string `json:"meeting_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Error     string `json:"error"`
}

// PassResult summarises a push or pull pass.
type PassResult struct {
	Created  int           `json:"created"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Failures []SyncFailure `json:"failures,omitempty"`
}

func (r *PassResult) fail(failure SyncFailure) {
	r.Failed++
	r.Failures = append(r.Failures, failure)
}

// ReconcileReport is the outcome of a full reconciliation.
type ReconcileReport struct {
	OwnerEmail string          `json:"owner_email"`
	Push       PassResult      `json:"push"`
	Pull       PassResult      `json:"pull"`
	Run        *models.SyncRun `json:"run,omitempty"`
}

// ReconcileOption customises ReconciliationEngine behaviour.
type ReconcileOption func(*ReconciliationEngine)

// WithReconcileClock injects a custom clock primarily for testing.
func WithReconcileClock(clock func() time.Time) ReconcileOption {
	return func(e *ReconciliationEngine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// ReconciliationEngine keeps local meetings and the owner's external calendar consistent.
//
// Push links every local meeting without an external event to a newly created one. Pull
// imports external events that no local meeting references. Both passes rely on conditional
// updates and the per-organiser unique index on external_event_id instead of locks, so
// concurrent runs never produce duplicates in either direction.
type ReconciliationEngine struct {
	db       *gorm.DB
	provider calendar.Provider
	now      func() time.Time
	log      *zap.Logger
}

// NewReconciliationEngine constructs a ReconciliationEngine. provider may be nil when the
// integration is not configured; every operation then reports calendar.ErrNotConfigured.
func NewReconciliationEngine(db *gorm.DB, provider calendar.Provider, opts ...ReconcileOption) (*ReconciliationEngine, error) {
	if db == nil {
		return nil, errors.New("reconciliation engine: db is required")
	}
	engine := &ReconciliationEngine{
		db:       db,
		provider: provider,
		now:      time.Now,
		log:      logger.WithModule("reconcile"),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Reconcile runs the push pass then the pull pass for the owner and records a SyncRun.
// External failures are reported per item; store failures abort and are returned.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, ownerEmail string, trigger models.SyncTrigger) (*ReconcileReport, error) {
	ownerEmail = normaliseEmail(ownerEmail)
	startedAt := e.now().UTC()

	owner, client, err := e.open(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{OwnerEmail: ownerEmail}

	report.Push, err = e.push(ctx, owner, client)
	if err == nil {
		report.Pull, err = e.pull(ctx, owner, client)
	}

	run, recordErr := e.recordRun(ctx, ownerEmail, trigger, startedAt, report, err)
	if recordErr != nil {
		e.log.Warn("record sync run failed", zap.String("owner", ownerEmail), zap.Error(recordErr))
	}
	report.Run = run

	if err != nil {
		return report, err
	}

	e.log.Info("reconciliation complete",
		zap.String("owner", ownerEmail),
		zap.String("trigger", string(trigger)),
		zap.Int("pushed", report.Push.Created),
		zap.Int("pulled", report.Pull.Created),
		zap.Int("failed", report.Push.Failed+report.Pull.Failed),
	)
	return report, nil
}

// PushPass creates external events for the owner's unlinked meetings.
func (e *ReconciliationEngine) PushPass(ctx context.Context, ownerEmail string) (PassResult, error) {
	owner, client, err := e.open(ctx, normaliseEmail(ownerEmail))
	if err != nil {
		return PassResult{}, err
	}
	return e.push(ctx, owner, client)
}

// PullPass imports external events that no local meeting references.
func (e *ReconciliationEngine) PullPass(ctx context.Context, ownerEmail string) (PassResult, error) {
	owner, client, err := e.open(ctx, normaliseEmail(ownerEmail))
	if err != nil {
		return PassResult{}, err
	}
	return e.pull(ctx, owner, client)
}

// SyncMeeting writes one meeting to its organiser's calendar, creating the external event on
// first sync and updating it afterwards. Only the organiser may sync.
func (e *ReconciliationEngine) SyncMeeting(ctx context.Context, actorID, meetingID string) (*models.Meeting, error) {
	meeting, err := e.loadMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.OrganizerID != strings.TrimSpace(actorID) {
		return nil, ErrForbidden
	}

	_, client, err := e.open(ctx, normaliseEmail(meeting.OrganizerEmail))
	if err != nil {
		return nil, err
	}

	payload := eventPayload(meeting)
	if meeting.IsSynced() {
		if err := client.UpdateEvent(ctx, *meeting.ExternalEventID, payload); err != nil {
			metrics.CalendarSyncOperations.WithLabelValues(passManual, "failed").Inc()
			return nil, externalError("update event", err)
		}
		metrics.CalendarSyncOperations.WithLabelValues(passManual, "updated").Inc()
		return meeting, nil
	}

	eventID, err := client.CreateEvent(ctx, payload)
	if err != nil {
		metrics.CalendarSyncOperations.WithLabelValues(passManual, "failed").Inc()
		return nil, externalError("create event", err)
	}
	linked, err := e.link(ctx, meeting.ID, eventID)
	if err != nil {
		return nil, err
	}
	if !linked {
		e.log.Warn("meeting linked concurrently; created event left orphaned",
			zap.String("meeting_id", meeting.ID),
			zap.String("event_id", eventID),
		)
		metrics.CalendarSyncOperations.WithLabelValues(passManual, "skipped").Inc()
		return e.loadMeeting(ctx, meeting.ID)
	}

	metrics.CalendarSyncOperations.WithLabelValues(passManual, "created").Inc()
	meeting.ExternalEventID = &eventID
	return meeting, nil
}

// PersistToken stores a refreshed token for the owner. It is the refresh callback handed to
// the calendar client.
func (e *ReconciliationEngine) PersistToken(ctx context.Context, ownerEmail string, token *oauth2.Token) error {
	_, err := upsertCredential(ctx, e.db, normaliseEmail(ownerEmail), token)
	return err
}

func (e *ReconciliationEngine) open(ctx context.Context, ownerEmail string) (*models.User, calendar.Client, error) {
	if e.provider == nil {
		return nil, nil, calendar.ErrNotConfigured
	}
	if ownerEmail == "" {
		return nil, nil, invalid("email", "is required")
	}

	var owner models.User
	if err := e.db.WithContext(ctx).Take(&owner, "email = ?", ownerEmail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("reconciliation engine: load owner: %w", err)
	}

	cred, err := loadCredential(ctx, e.db, ownerEmail)
	if err != nil {
		return nil, nil, err
	}

	client, err := e.provider.Client(ctx, cred, func(ctx context.Context, token *oauth2.Token) error {
		return e.PersistToken(ctx, ownerEmail, token)
	})
	if err != nil {
		return nil, nil, externalError("build client", err)
	}
	return &owner, client, nil
}

func (e *ReconciliationEngine) push(ctx context.Context, owner *models.User, client calendar.Client) (PassResult, error) {
	var result PassResult

	var meetings []models.Meeting
	err := e.db.WithContext(ctx).
		Where("organizer_id = ? AND external_event_id IS NULL", owner.ID).
		Preload("Invitations").
		Order("start_time ASC").
		Find(&meetings).Error
	if err != nil {
		return result, fmt.Errorf("reconciliation engine: load unsynced meetings: %w", err)
	}

	for i := range meetings {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		meeting := &meetings[i]

		eventID, err := client.CreateEvent(ctx, eventPayload(meeting))
		if err != nil {
			metrics.CalendarSyncOperations.WithLabelValues(passPush, "failed").Inc()
			e.log.Warn("push meeting failed", zap.String("meeting_id", meeting.ID), zap.Error(err))
			result.fail(SyncFailure{MeetingID: meeting.ID, Error: err.Error()})
			continue
		}

		linked, err := e.link(ctx, meeting.ID, eventID)
		if err != nil {
			return result, err
		}
		if !linked {
			metrics.CalendarSyncOperations.WithLabelValues(passPush, "skipped").Inc()
			e.log.Warn("meeting linked concurrently; created event left orphaned",
				zap.String("meeting_id", meeting.ID),
				zap.String("event_id", eventID),
			)
			result.Skipped++
			continue
		}

		metrics.CalendarSyncOperations.WithLabelValues(passPush, "created").Inc()
		result.Created++
	}
	return result, nil
}

func (e *ReconciliationEngine) pull(ctx context.Context, owner *models.User, client calendar.Client) (PassResult, error) {
	var result PassResult
	now := e.now().UTC()

	events, err := client.ListEvents(ctx, pullWindowStart(now))
	if err != nil {
		metrics.CalendarSyncOperations.WithLabelValues(passPull, "failed").Inc()
		e.log.Warn("list external events failed", zap.String("owner", owner.Email), zap.Error(err))
		result.fail(SyncFailure{Error: err.Error()})
		return result, nil
	}

	linked, knownMeetings, err := e.ownerIndex(ctx, owner)
	if err != nil {
		return result, err
	}

	for _, event := range events {
		if _, ok := linked[event.ID]; ok {
			continue
		}
		if _, ok := knownMeetings[event.MeetingID]; ok && event.MeetingID != "" {
			// pushed by us, but the link was lost to a concurrent push
			continue
		}
		if !event.Valid() {
			result.Skipped++
			metrics.CalendarSyncOperations.WithLabelValues(passPull, "skipped").Inc()
			continue
		}

		eventID := event.ID
		meeting := models.Meeting{
			OrganizerID:     owner.ID,
			OrganizerEmail:  owner.Email,
			Title:           truncateRunes(event.Title, maxTitleLength),
			Description:     truncateRunes(strings.TrimSpace(event.Description), maxDescriptionLength),
			StartTime:       event.Start.UTC(),
			EndTime:         event.End.UTC(),
			Archived:        event.End.Before(now),
			ExternalEventID: &eventID,
		}
		if err := e.db.WithContext(ctx).Omit("Invitations").Create(&meeting).Error; err != nil {
			if isUniqueConstraintError(err) {
				result.Skipped++
				metrics.CalendarSyncOperations.WithLabelValues(passPull, "skipped").Inc()
				continue
			}
			return result, fmt.Errorf("reconciliation engine: import event %s: %w", event.ID, err)
		}

		linked[event.ID] = struct{}{}
		result.Created++
		metrics.CalendarSyncOperations.WithLabelValues(passPull, "imported").Inc()
	}
	return result, nil
}

// link records eventID on the meeting unless another writer linked it first.
func (e *ReconciliationEngine) link(ctx context.Context, meetingID, eventID string) (bool, error) {
	result := e.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Where("id = ? AND external_event_id IS NULL", meetingID).
		Update("external_event_id", eventID)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return false, nil
		}
		return false, fmt.Errorf("reconciliation engine: link meeting %s: %w", meetingID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ownerIndex returns the external event ids already linked to meetings the owner organises or
// is invited to, plus the ids of those meetings. Invitees see the organiser's event id on their
// own calendar, so both sets cover invitations too.
func (e *ReconciliationEngine) ownerIndex(ctx context.Context, owner *models.User) (map[string]struct{}, map[string]struct{}, error) {
	var rows []struct {
		ID              string
		ExternalEventID *string
	}
	db := e.db.WithContext(ctx)
	err := visibleTo(db.Model(&models.Meeting{}), db, owner.ID, owner.Email).
		Select("id", "external_event_id").
		Find(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("reconciliation engine: index meetings: %w", err)
	}

	linked := make(map[string]struct{}, len(rows))
	known := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		known[row.ID] = struct{}{}
		if row.ExternalEventID != nil && *row.ExternalEventID != "" {
			linked[*row.ExternalEventID] = struct{}{}
		}
	}
	return linked, known, nil
}

func (e *ReconciliationEngine) loadMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	var meeting models.Meeting
	err := e.db.WithContext(ctx).Preload("Invitations").Take(&meeting, "id = ?", strings.TrimSpace(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, fmt.Errorf("reconciliation engine: load meeting: %w", err)
	}
	return &meeting, nil
}

func (e *ReconciliationEngine) recordRun(ctx context.Context, ownerEmail string, trigger models.SyncTrigger, startedAt time.Time, report *ReconcileReport, runErr error) (*models.SyncRun, error) {
	failures := append(append([]SyncFailure{}, report.Push.Failures...), report.Pull.Failures...)
	failed := report.Push.Failed + report.Pull.Failed
	if runErr != nil {
		failures = append(failures, SyncFailure{Error: runErr.Error()})
		failed++
	}

	raw, err := json.Marshal(failures)
	if err != nil {
		return nil, err
	}

	run := &models.SyncRun{
		OwnerEmail: ownerEmail,
		Trigger:    trigger,
		Pushed:     report.Push.Created,
		Pulled:     report.Pull.Created,
		Skipped:    report.Push.Skipped + report.Pull.Skipped,
		Failed:     failed,
		Failures:   datatypes.JSON(raw),
		StartedAt:  startedAt,
		FinishedAt: e.now().UTC(),
	}
	// the run is recorded even when the caller's context was cancelled mid-pass
	if err := e.db.WithContext(context.WithoutCancel(ctx)).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func eventPayload(meeting *models.Meeting) calendar.EventPayload {
	attendees := make([]string, 0, len(meeting.Invitations))
	for _, inv := range meeting.Invitations {
		attendees = append(attendees, inv.Email)
	}
	return calendar.EventPayload{
		MeetingID:       meeting.ID,
		Title:           meeting.Title,
		Description:     meeting.Description,
		Start:           meeting.StartTime,
		End:             meeting.EndTime,
		Attendees:       attendees,
		ReminderMinutes: cloneInt(meeting.ReminderLeadMinutes),
	}
}

// pullWindowStart is the first instant of the month before now.
func pullWindowStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC)
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
