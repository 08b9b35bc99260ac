package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/latzu/latzu-edge/pkg/events"
)

// pushHandler handles POST /api/push: delivers a push event to every open
// connection of one user. Only internal callers holding the push token
// reach it.
func (s *Server) pushHandler(c *gin.Context) {
	if s.publisher == nil {
		abortWithError(c, &HTTPError{Code: http.StatusServiceUnavailable, Message: "push not available"})
		return
	}

	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, &HTTPError{Code: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	if req.UserID == "" {
		abortWithError(c, &HTTPError{Code: http.StatusBadRequest, Message: "user_id is required"})
		return
	}
	if req.Type == "" {
		abortWithError(c, &HTTPError{Code: http.StatusBadRequest, Message: "type is required"})
		return
	}
	identity := events.Identity{TenantID: req.TenantID, UserID: req.UserID}
	if identity.TenantID == "" {
		identity.TenantID = events.DefaultTenantID
	}

	if err := s.publisher.Publish(c.Request.Context(), identity, req.Type, req.Data); err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	c.Status(http.StatusAccepted)
}
