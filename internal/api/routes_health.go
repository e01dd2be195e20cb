package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/app"
	"github.com/charlesng35/syncmeet/internal/handlers"
	"github.com/charlesng35/syncmeet/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", disabledHealthHandler)
		r.GET("/health/ready", disabledHealthHandler)
		return
	}

	handler := handlers.NewHealthHandler(manager)
	r.GET("/health", handler.Liveness)
	r.GET("/health/ready", handler.Readiness)
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "HEALTH_DISABLED",
			"message": "health checks are disabled",
		},
	})
}
