package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/middleware"
	"github.com/charlesng35/syncmeet/internal/services"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// actorFromContext builds the service actor from the identity the auth middleware stored.
func actorFromContext(c *gin.Context) (services.Actor, bool) {
	actor := services.Actor{
		UserID: c.GetString(middleware.CtxUserIDKey),
		Email:  c.GetString(middleware.CtxUserEmailKey),
		Name:   c.GetString(middleware.CtxUserNameKey),
	}
	if actor.UserID == "" || actor.Email == "" {
		return services.Actor{}, false
	}
	return actor, true
}
