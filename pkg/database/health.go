package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus represents database health and connection pool statistics
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	SchemaVersion   uint   `json:"schema_version"`
	SchemaDirty     bool   `json:"schema_dirty,omitempty"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// Health pings the database and reports pool statistics and the applied
// schema version. A dirty schema counts as unhealthy.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	version, dirty, err := MigrationVersion(ctx, db)
	status := "healthy"
	if err != nil || dirty {
		status = "unhealthy"
	}

	stats := db.Stats()
	return &HealthStatus{
		Status:          status,
		ResponseTime:    time.Since(start).Milliseconds(),
		SchemaVersion:   version,
		SchemaDirty:     dirty,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		MaxOpenConns:    stats.MaxOpenConnections,
	}, err
}
