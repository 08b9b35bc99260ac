package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latzu/latzu-edge/pkg/events"
)

// ingestInteractionHandler handles POST /api/interactions, the HTTP
// fallback for clients that cannot hold a WebSocket open. Same idempotency
// as the gateway: a replayed event ID answers 200 with inserted=false.
func (s *Server) ingestInteractionHandler(c *gin.Context) {
	var event events.InteractionEvent
	if err := json.NewDecoder(c.Request.Body).Decode(&event); err != nil {
		abortWithError(c, &HTTPError{Code: http.StatusBadRequest, Message: "invalid interaction event: " + err.Error()})
		return
	}
	identity := extractIdentity(c)
	event = event.Prepare(identity.TenantID, identity.UserID, time.Now()).
		BindIdentity(identity.TenantID, identity.UserID)

	inserted, err := s.interactions.Ingest(c.Request.Context(), event)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	c.JSON(status, IngestResponse{EventID: event.EventID, Inserted: inserted})
}

// listInteractionsHandler handles GET /api/interactions?limit=N for the
// calling identity.
func (s *Server) listInteractionsHandler(c *gin.Context) {
	identity := extractIdentity(c)
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			abortWithError(c, &HTTPError{Code: http.StatusBadRequest, Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	list, err := s.interactions.ListByUser(c.Request.Context(), identity.TenantID, identity.UserID, limit)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	c.JSON(http.StatusOK, InteractionListResponse{Interactions: list, Count: len(list)})
}

// getInteractionHandler handles GET /api/interactions/:id. Events of other
// tenants are reported as not found.
func (s *Server) getInteractionHandler(c *gin.Context) {
	identity := extractIdentity(c)
	event, err := s.interactions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	if event.TenantID != identity.TenantID {
		abortWithError(c, &HTTPError{Code: http.StatusNotFound, Message: "resource not found"})
		return
	}
	c.JSON(http.StatusOK, event)
}
