package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/syncmeet/internal/monitoring"
	"github.com/charlesng35/syncmeet/pkg/response"
)

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	manager *monitoring.HealthManager
}

// NewHealthHandler constructs a health handler around manager.
func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	if manager == nil {
		manager = monitoring.NewHealthManager()
	}
	return &HealthHandler{manager: manager}
}

// Liveness reports whether the process is serving requests.
func (h *HealthHandler) Liveness(c *gin.Context) {
	report := h.manager.EvaluateLiveness(requestContext(c))
	response.Success(c, statusCode(report), report)
}

// Readiness reports whether the store and background jobs are healthy.
func (h *HealthHandler) Readiness(c *gin.Context) {
	report := h.manager.EvaluateReadiness(requestContext(c))
	response.Success(c, statusCode(report), report)
}

func statusCode(report monitoring.HealthReport) int {
	if report.Status == monitoring.StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
