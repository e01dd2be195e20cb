package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/logger"
)

const (
	defaultCalendarID     = "primary"
	defaultRequestTimeout = 15 * time.Second
	listPageSize          = 250
)

// GoogleConfig configures the Google Calendar provider.
type GoogleConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	Scopes         []string
	CalendarID     string
	RequestTimeout time.Duration

	// Endpoint and APIEndpoint override Google's URLs; tests point them at httptest servers.
	Endpoint    oauth2.Endpoint
	APIEndpoint string
	HTTPClient  *http.Client
}

// GoogleProvider implements Provider against Google Calendar v3.
type GoogleProvider struct {
	oauth      *oauth2.Config
	calendarID string
	timeout    time.Duration
	apiBase    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewGoogleProvider validates cfg and returns a provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("calendar: redirect url is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gcal.CalendarScope}
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	calendarID := strings.TrimSpace(cfg.CalendarID)
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		calendarID: calendarID,
		timeout:    timeout,
		apiBase:    cfg.APIEndpoint,
		httpClient: cfg.HTTPClient,
		log:        logger.WithModule("calendar"),
	}, nil
}

// AuthorizeURL returns the consent URL. Offline access with forced consent makes Google issue
// a refresh token on every grant.
func (p *GoogleProvider) AuthorizeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorisation code for tokens.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("calendar: authorization code is required")
	}
	ctx, cancel := context.WithTimeout(p.oauthContext(ctx), p.timeout)
	defer cancel()

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("calendar: exchange code: %w", err)
	}
	return token, nil
}

// Client builds a calendar client for cred. onRefresh may be nil.
func (p *GoogleProvider) Client(ctx context.Context, cred *models.CalendarCredential, onRefresh TokenRefreshFunc) (Client, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, errors.New("calendar: credential has no access token")
	}

	// refreshes outlive the request that built the client
	baseCtx := p.oauthContext(context.WithoutCancel(ctx))
	initial := TokenFromCredential(cred)
	source := &notifyingTokenSource{
		ctx:       baseCtx,
		base:      p.oauth.TokenSource(baseCtx, initial),
		last:      initial.AccessToken,
		onRefresh: onRefresh,
		log:       p.log.With(zap.String("owner", cred.OwnerEmail)),
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(baseCtx, source))}
	if p.apiBase != "" {
		opts = append(opts, option.WithEndpoint(p.apiBase))
	}
	svc, err := gcal.NewService(baseCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}

	return &googleClient{
		events:     svc.Events,
		calendarID: p.calendarID,
		timeout:    p.timeout,
	}, nil
}

func (p *GoogleProvider) oauthContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// notifyingTokenSource reports access token changes to the owner of the credential.
type notifyingTokenSource struct {
	ctx       context.Context
	base      oauth2.TokenSource
	onRefresh TokenRefreshFunc
	log       *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *notifyingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last {
		return token, nil
	}
	s.last = token.AccessToken

	if s.onRefresh != nil {
		if err := s.onRefresh(s.ctx, token); err != nil {
			s.log.Warn("persist refreshed token failed", zap.Error(err))
		}
	}
	return token, nil
}

type googleClient struct {
	events     *gcal.EventsService
	calendarID string
	timeout    time.Duration
}

func (c *googleClient) CreateEvent(ctx context.Context, payload EventPayload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := c.events.Insert(c.calendarID, toGoogleEvent(payload)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	if created == nil || created.Id == "" {
		return "", errors.New("calendar: insert event returned no id")
	}
	return created.Id, nil
}

func (c *googleClient) UpdateEvent(ctx context.Context, eventID string, payload EventPayload) error {
	if strings.TrimSpace(eventID) == "" {
		return errors.New("calendar: event id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.events.Patch(c.calendarID, eventID, toGoogleEvent(payload)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: patch event %s: %w", eventID, err)
	}
	return nil
}

func (c *googleClient) ListEvents(ctx context.Context, since time.Time) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var events []Event
	call := c.events.List(c.calendarID).
		TimeMin(since.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		MaxResults(listPageSize)

	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item == nil {
				continue
			}
			events = append(events, fromGoogleEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}
	return events, nil
}

func toGoogleEvent(payload EventPayload) *gcal.Event {
	event := &gcal.Event{
		Summary:     payload.Title,
		Description: payload.Description,
		Start:       &gcal.EventDateTime{DateTime: payload.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: payload.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}

	for _, email := range payload.Attendees {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		event.Attendees = append(event.Attendees, &gcal.EventAttendee{Email: email})
	}

	if payload.ReminderMinutes != nil {
		minutes := int64(*payload.ReminderMinutes)
		event.Reminders = &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "popup", Minutes: minutes},
				{Method: "email", Minutes: minutes},
			},
			ForceSendFields: []string{"UseDefault"},
		}
	}

	if payload.MeetingID != "" {
		event.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{MeetingIDProperty: payload.MeetingID},
		}
	}
	return event
}

func fromGoogleEvent(item *gcal.Event) Event {
	event := Event{
		ID:          item.Id,
		Title:       strings.TrimSpace(item.Summary),
		Description: item.Description,
		Cancelled:   strings.EqualFold(item.Status, "cancelled"),
	}

	if start, allDay, ok := parseEventTime(item.Start); ok {
		event.Start = start
		event.AllDay = allDay
	}
	if end, _, ok := parseEventTime(item.End); ok {
		event.End = end
	}

	for _, attendee := range item.Attendees {
		if attendee != nil && attendee.Email != "" {
			event.Attendees = append(event.Attendees, attendee.Email)
		}
	}
	if item.ExtendedProperties != nil {
		event.MeetingID = item.ExtendedProperties.Private[MeetingIDProperty]
	}
	return event
}

// parseEventTime reads a timed or all-day boundary. All-day dates are taken as UTC midnight.
func parseEventTime(value *gcal.EventDateTime) (time.Time, bool, bool) {
	if value == nil {
		return time.Time{}, false, false
	}
	if value.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, value.DateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return parsed.UTC(), false, true
	}
	if value.Date != "" {
		parsed, err := time.Parse(time.DateOnly, value.Date)
		if err != nil {
			return time.Time{}, false, false
		}
		return parsed, true, true
	}
	return time.Time{}, false, false
}
