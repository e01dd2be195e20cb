package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/syncmeet/internal/app"
	iauth "github.com/charlesng35/syncmeet/internal/auth"
	"github.com/charlesng35/syncmeet/internal/cache"
	"github.com/charlesng35/syncmeet/internal/middleware"
	"github.com/charlesng35/syncmeet/internal/monitoring"
	"github.com/charlesng35/syncmeet/internal/services"
)

// Dependencies carries the components the HTTP layer exposes.
type Dependencies struct {
	Config      *app.Config
	JWT         *iauth.JWTService
	Meetings    *services.MeetingService
	Invitations *services.InvitationService
	Connections *services.CalendarConnectionService
	// Syncer and Reconciler are nil when calendar sync is unavailable.
	Syncer     services.MeetingSyncer
	Reconciler services.Reconciler
	Health     *monitoring.HealthManager

	// RateCounter backs the rate limiter; nil keeps counters in process.
	RateCounter cache.Counter
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Meetings == nil:
		return fmt.Errorf("meeting service must be provided")
	case d.Invitations == nil:
		return fmt.Errorf("invitation service must be provided")
	case d.Connections == nil:
		return fmt.Errorf("calendar connection service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	limiter := middleware.NewRateLimiter(deps.RateCounter, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)
	limited := middleware.RateLimit(limiter)

	registerHealthRoutes(r, cfg, deps.Health)
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// The OAuth redirect carries identity in the signed state, not a bearer token.
	registerCalendarCallback(r, deps, limited)

	api := r.Group("/api")
	api.Use(limited, middleware.Auth(deps.JWT))

	registerMeetingRoutes(api, deps)
	registerInvitationRoutes(api, deps)
	registerCalendarRoutes(api, deps)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
