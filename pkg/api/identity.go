package api

import (
	"github.com/gin-gonic/gin"

	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/realtime"
)

const (
	headerUserID   = realtime.HeaderUserID
	headerTenantID = realtime.HeaderTenantID
)

// extractIdentity resolves the tenant/user a request acts for.
// User priority: X-User-Id > X-Forwarded-User (oauth2-proxy) > user_id query.
// Tenant priority: X-Tenant-Id > tenant_id query > "default".
// Query parameters exist for browsers, which cannot set headers on a
// WebSocket upgrade.
func extractIdentity(c *gin.Context) events.Identity {
	id := events.Identity{
		UserID:   c.GetHeader(headerUserID),
		TenantID: c.GetHeader(headerTenantID),
	}
	if id.UserID == "" {
		id.UserID = c.GetHeader("X-Forwarded-User")
	}
	if id.UserID == "" {
		id.UserID = c.Query("user_id")
	}
	if id.TenantID == "" {
		id.TenantID = c.Query("tenant_id")
	}
	if id.TenantID == "" {
		id.TenantID = events.DefaultTenantID
	}
	return id
}
