package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/handlers"
)

func calendarHandler(deps Dependencies) *handlers.CalendarHandler {
	return handlers.NewCalendarHandler(deps.Connections, deps.Reconciler, deps.Config.Server.ClientURL)
}

func registerCalendarCallback(r *gin.Engine, deps Dependencies, limited gin.HandlerFunc) {
	r.GET("/calendar/callback", limited, calendarHandler(deps).Callback)
}

func registerCalendarRoutes(api *gin.RouterGroup, deps Dependencies) {
	handler := calendarHandler(deps)

	cal := api.Group("/calendar")
	{
		cal.GET("/authorize", handler.Authorize)
		cal.GET("/status", handler.Status)
		cal.POST("/reconcile", handler.Reconcile)
	}
}
