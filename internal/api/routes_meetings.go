package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/handlers"
)

func registerMeetingRoutes(api *gin.RouterGroup, deps Dependencies) {
	handler := handlers.NewMeetingHandler(deps.Meetings, deps.Syncer)

	meetings := api.Group("/meetings")
	{
		meetings.POST("", handler.Create)
		meetings.GET("", handler.List)
		meetings.GET("/archived", handler.ListArchived)
		meetings.GET("/:id", handler.Get)
		meetings.PATCH("/:id", handler.Update)
		meetings.POST("/:id/archive", handler.Archive)
		meetings.GET("/:id/ics", handler.ICS)
		meetings.POST("/:id/sync", handler.Sync)
	}
}
