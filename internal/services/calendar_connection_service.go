package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/logger"
)

const defaultReconcileTimeout = 2 * time.Minute

// Reconciler runs a full two-way sync for an owner.
type Reconciler interface {
	Reconcile(ctx context.Context, ownerEmail string, trigger models.SyncTrigger) (*ReconcileReport, error)
}

// ConnectionStatus describes the caller's calendar link.
type ConnectionStatus struct {
	Connected bool            `json:"connected"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Scope     string          `json:"scope,omitempty"`
	LastSync  *models.SyncRun `json:"last_sync,omitempty"`
}

// ConnectionOption customises CalendarConnectionService behaviour.
type ConnectionOption func(*CalendarConnectionService)

// WithReconcileTimeout bounds the background reconciliation started after authorisation.
func WithReconcileTimeout(timeout time.Duration) ConnectionOption {
	return func(s *CalendarConnectionService) {
		if timeout > 0 {
			s.reconcileTimeout = timeout
		}
	}
}

// CalendarConnectionService drives the OAuth grant that links a user to their external calendar.
type CalendarConnectionService struct {
	db               *gorm.DB
	provider         calendar.Provider
	states           *calendar.StateCodec
	reconciler       Reconciler
	reconcileTimeout time.Duration
	log              *zap.Logger

	wg sync.WaitGroup
}

// NewCalendarConnectionService constructs the service. provider and reconciler may be nil
// when the integration is disabled.
func NewCalendarConnectionService(db *gorm.DB, provider calendar.Provider, states *calendar.StateCodec, reconciler Reconciler, opts ...ConnectionOption) (*CalendarConnectionService, error) {
	if db == nil {
		return nil, errors.New("calendar connection service: db is required")
	}
	if provider != nil && states == nil {
		return nil, errors.New("calendar connection service: state codec is required")
	}

	svc := &CalendarConnectionService{
		db:               db,
		provider:         provider,
		states:           states,
		reconciler:       reconciler,
		reconcileTimeout: defaultReconcileTimeout,
		log:              logger.WithModule("calendar"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AuthorizeURL returns the consent URL the caller should be redirected to.
func (s *CalendarConnectionService) AuthorizeURL(_ context.Context, actor Actor) (string, error) {
	if s.provider == nil {
		return "", calendar.ErrNotConfigured
	}
	actor = actor.normalised()
	if !actor.valid() {
		return "", ErrForbidden
	}

	state, err := s.states.Encode(actor.UserID, actor.Email)
	if err != nil {
		return "", fmt.Errorf("calendar connection service: encode state: %w", err)
	}
	return s.provider.AuthorizeURL(state), nil
}

// HandleCallback completes the OAuth flow: it validates state, exchanges the code, stores the
// credential and schedules a reconciliation that outlives the request.
func (s *CalendarConnectionService) HandleCallback(ctx context.Context, code, state string) (*models.CalendarCredential, error) {
	if s.provider == nil {
		return nil, calendar.ErrNotConfigured
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalid("code", "is required")
	}

	payload, err := s.states.Decode(strings.TrimSpace(state))
	if err != nil {
		if errors.Is(err, calendar.ErrStateExpired) {
			return nil, invalid("state", "has expired, start the authorisation again")
		}
		return nil, invalid("state", "is invalid")
	}

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, externalError("exchange code", err)
	}

	cred, err := upsertCredential(ctx, s.db, payload.OwnerEmail, token)
	if err != nil {
		return nil, err
	}

	s.log.Info("calendar connected", zap.String("owner", cred.OwnerEmail), zap.String("user_id", payload.UserID))
	s.reconcileInBackground(ctx, cred.OwnerEmail)
	return cred, nil
}

// Status reports whether the actor has linked a calendar, and the outcome of the latest sync.
func (s *CalendarConnectionService) Status(ctx context.Context, actor Actor) (*ConnectionStatus, error) {
	actor = actor.normalised()
	if !actor.valid() {
		return nil, ErrForbidden
	}

	cred, err := loadCredential(ctx, s.db, actor.Email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return &ConnectionStatus{}, nil
		}
		return nil, err
	}

	status := &ConnectionStatus{Connected: true, Scope: cred.Scope}
	if expiry := cred.Expiry(); !expiry.IsZero() {
		expiry = expiry.UTC()
		status.ExpiresAt = &expiry
	}

	var run models.SyncRun
	err = s.db.WithContext(ctx).
		Where("owner_email = ?", actor.Email).
		Order("started_at DESC").
		Take(&run).Error
	switch {
	case err == nil:
		status.LastSync = &run
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("calendar connection service: load last sync: %w", err)
	}
	return status, nil
}

// Wait blocks until background reconciliations started by HandleCallback finish.
func (s *CalendarConnectionService) Wait() {
	s.wg.Wait()
}

func (s *CalendarConnectionService) reconcileInBackground(ctx context.Context, ownerEmail string) {
	if s.reconciler == nil {
		return
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reconcileTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		if _, err := s.reconciler.Reconcile(bg, ownerEmail, models.SyncTriggerAuthorize); err != nil {
			s.log.Warn("initial reconciliation failed", zap.String("owner", ownerEmail), zap.Error(err))
		}
	}()
}

func loadCredential(ctx context.Context, db *gorm.DB, ownerEmail string) (*models.CalendarCredential, error) {
	var cred models.CalendarCredential
	if err := db.WithContext(ctx).Take(&cred, "owner_email = ?", ownerEmail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("load calendar credential: %w", err)
	}
	return &cred, nil
}

// upsertCredential stores token for the owner, keeping the previous refresh token when the
// provider omitted one.
func upsertCredential(ctx context.Context, db *gorm.DB, ownerEmail string, token *oauth2.Token) (*models.CalendarCredential, error) {
	if token == nil || token.AccessToken == "" {
		return nil, invalid("token", "is empty")
	}
	ownerEmail = normaliseEmail(ownerEmail)

	var cred models.CalendarCredential
	save := func() error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Take(&cred, "owner_email = ?", ownerEmail).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				cred = models.CalendarCredential{OwnerEmail: ownerEmail}
				calendar.ApplyToken(&cred, token)
				return tx.Create(&cred).Error
			case err != nil:
				return err
			}
			calendar.ApplyToken(&cred, token)
			return tx.Save(&cred).Error
		})
	}

	err := save()
	if err != nil && isUniqueConstraintError(err) {
		// another callback inserted the row first; update it instead
		err = save()
	}
	if err != nil {
		return nil, fmt.Errorf("store calendar credential: %w", err)
	}
	return &cred, nil
}
