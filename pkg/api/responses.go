package api

import (
	"github.com/latzu/latzu-edge/pkg/database"
	"github.com/latzu/latzu-edge/pkg/events"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string                 `json:"status"`
	Version           string                 `json:"version"`
	Database          *database.HealthStatus `json:"database,omitempty"`
	ActiveConnections int                    `json:"active_connections"`
	Checks            map[string]HealthCheck `json:"checks"`
}

// HealthCheck is the status of a single component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PushRequest is the body of POST /api/push.
type PushRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Type     string `json:"type"`
	Data     any    `json:"data"`
}

// IngestResponse is returned by POST /api/interactions.
type IngestResponse struct {
	EventID  string `json:"event_id"`
	Inserted bool   `json:"inserted"`
}

// InteractionListResponse is returned by GET /api/interactions.
type InteractionListResponse struct {
	Interactions []events.InteractionEvent `json:"interactions"`
	Count        int                       `json:"count"`
}
