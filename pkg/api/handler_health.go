package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latzu/latzu-edge/pkg/database"
	"github.com/latzu/latzu-edge/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDisabled  = "disabled"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the edge's own components are checked. The AI and API services are
// excluded so an outage there does not get the edge restarted.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.GitCommit,
		Checks:  make(map[string]HealthCheck),
	}
	if s.connManager != nil {
		resp.ActiveConnections = s.connManager.ActiveConnections()
	}

	if s.dbClient == nil {
		resp.Checks["database"] = HealthCheck{Status: healthStatusDisabled}
	} else {
		dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
		resp.Database = dbHealth
		switch {
		case err != nil:
			resp.Status = healthStatusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		case dbHealth.Status != healthStatusHealthy:
			resp.Status = healthStatusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: "schema is dirty"}
		default:
			resp.Checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}
