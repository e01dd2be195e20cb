package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/handlers"
)

func registerInvitationRoutes(api *gin.RouterGroup, deps Dependencies) {
	handler := handlers.NewInvitationHandler(deps.Invitations)

	invitations := api.Group("/invitations")
	{
		invitations.GET("", handler.List)
		invitations.POST("/respond", handler.Respond)
	}
}
