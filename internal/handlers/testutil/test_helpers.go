package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/charlesng35/syncmeet/internal/api"
	"github.com/charlesng35/syncmeet/internal/app"
	iauth "github.com/charlesng35/syncmeet/internal/auth"
	"github.com/charlesng35/syncmeet/internal/calendar"
	sharedtestutil "github.com/charlesng35/syncmeet/internal/database/testutil"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/internal/monitoring"
	"github.com/charlesng35/syncmeet/internal/services"
	"github.com/charlesng35/syncmeet/pkg/mail"
	"github.com/charlesng35/syncmeet/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T           *testing.T
	DB          *gorm.DB
	Router      *gin.Engine
	JWT         *iauth.JWTService
	Calendar    *FakeCalendar
	States      *calendar.StateCodec
	Connections *services.CalendarConnectionService
	Users       *services.UserService
}

// EnvOption customises the test environment.
type EnvOption func(*envConfig)

type envConfig struct {
	withoutCalendar bool
	rateLimit       int
	clientURL       string
}

// WithoutCalendar builds the API with the calendar integration disabled.
func WithoutCalendar() EnvOption {
	return func(cfg *envConfig) { cfg.withoutCalendar = true }
}

// WithRateLimit sets the per-route request budget per minute.
func WithRateLimit(requests int) EnvOption {
	return func(cfg *envConfig) { cfg.rateLimit = requests }
}

// WithClientURL makes the OAuth callback redirect to the given web client.
func WithClientURL(clientURL string) EnvOption {
	return func(cfg *envConfig) { cfg.clientURL = clientURL }
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	options := envConfig{}
	for _, opt := range opts {
		opt(&options)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "test-suite-super-secret-key-32-bytes!!",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Server: app.ServerConfig{
			ClientURL:      options.clientURL,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimit:      app.RateLimitConfig{Requests: options.rateLimit, Window: time.Minute},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{})
	require.NoError(t, err)
	notifier := services.NewNotifier(mailer, "")

	var (
		provider calendar.Provider
		fake     *FakeCalendar
		states   *calendar.StateCodec
	)
	if !options.withoutCalendar {
		fake = NewFakeCalendar()
		provider = fake
		states, err = calendar.NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute, nil)
		require.NoError(t, err)
	}

	engine, err := services.NewReconciliationEngine(db, provider)
	require.NoError(t, err)

	meetings, err := services.NewMeetingService(db,
		services.WithMeetingNotifier(notifier),
		services.WithMeetingSyncer(engine),
	)
	require.NoError(t, err)

	invitations, err := services.NewInvitationService(db)
	require.NoError(t, err)

	connections, err := services.NewCalendarConnectionService(db, provider, states, engine)
	require.NoError(t, err)
	t.Cleanup(connections.Wait)

	users, err := services.NewUserService(db)
	require.NoError(t, err)

	health := monitoring.NewHealthManager()
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))

	router, err := api.NewRouter(api.Dependencies{
		Config:      cfg,
		JWT:         jwtSvc,
		Meetings:    meetings,
		Invitations: invitations,
		Connections: connections,
		Syncer:      engine,
		Reconciler:  engine,
		Health:      health,
	})
	require.NoError(t, err)

	return &Env{
		T:           t,
		DB:          db,
		Router:      router,
		JWT:         jwtSvc,
		Calendar:    fake,
		States:      states,
		Connections: connections,
		Users:       users,
	}
}

// CreateUser registers a user and returns it together with a bearer token.
func (e *Env) CreateUser(email, name string) (*models.User, string) {
	e.T.Helper()

	user, err := e.Users.Create(context.Background(), email, name)
	require.NoError(e.T, err)

	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	require.NoError(e.T, err)
	return user, token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// FakeCalendar is an in-memory calendar provider and client.
type FakeCalendar struct {
	mu      sync.Mutex
	events  []calendar.Event
	nextID  int
	failure error
	Token   *oauth2.Token
}

// NewFakeCalendar returns an empty fake calendar that grants a fixed token.
func NewFakeCalendar() *FakeCalendar {
	return &FakeCalendar{
		Token: &oauth2.Token{
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
}

func (f *FakeCalendar) AuthorizeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f *FakeCalendar) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if code == "bad-code" {
		return nil, fmt.Errorf("invalid_grant")
	}
	return f.Token, nil
}

func (f *FakeCalendar) Client(context.Context, *models.CalendarCredential, calendar.TokenRefreshFunc) (calendar.Client, error) {
	return f, nil
}

func (f *FakeCalendar) CreateEvent(_ context.Context, payload calendar.EventPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return "", f.failure
	}
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events = append(f.events, calendar.Event{
		ID:        id,
		Title:     payload.Title,
		Start:     payload.Start,
		End:       payload.End,
		MeetingID: payload.MeetingID,
	})
	return id, nil
}

func (f *FakeCalendar) UpdateEvent(_ context.Context, eventID string, payload calendar.EventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return f.failure
	}
	for i := range f.events {
		if f.events[i].ID == eventID {
			f.events[i].Title = payload.Title
			f.events[i].Start = payload.Start
			f.events[i].End = payload.End
			return nil
		}
	}
	return fmt.Errorf("event %s not found", eventID)
}

func (f *FakeCalendar) ListEvents(_ context.Context, since time.Time) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return nil, f.failure
	}
	out := make([]calendar.Event, 0, len(f.events))
	for _, event := range f.events {
		if event.End.After(since) {
			out = append(out, event)
		}
	}
	return out, nil
}

// Fail makes every subsequent client call return err.
func (f *FakeCalendar) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
}

// AddExternal inserts an event created outside the service.
func (f *FakeCalendar) AddExternal(event calendar.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

// Events returns a copy of the stored events.
func (f *FakeCalendar) Events() []calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calendar.Event(nil), f.events...)
}
