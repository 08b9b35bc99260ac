package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// maxChunkDelay keeps simulated streaming from stalling a reply.
const maxChunkDelay = time.Second

// Validate checks the resolved configuration and returns the first
// problem found as a *ValidationError.
func Validate(cfg *Config) error {
	v := &configValidator{cfg: cfg}
	return v.validateAll()
}

type configValidator struct {
	cfg *Config
}

func (v *configValidator) validateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateRelay(); err != nil {
		return err
	}
	if err := v.validateRealtime(); err != nil {
		return err
	}
	if err := v.validateStore(); err != nil {
		return err
	}
	if err := v.validateAPI(); err != nil {
		return err
	}
	return v.validateRetention()
}

func (v *configValidator) validateServer() error {
	s := v.cfg.Server
	port, err := strconv.Atoi(s.HTTPPort)
	if err != nil || port < 1 || port > 65535 {
		return NewValidationError("server", "http_port", fmt.Errorf("%w: %q is not a TCP port", ErrInvalidValue, s.HTTPPort))
	}
	if s.WriteTimeout <= 0 {
		return NewValidationError("server", "write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.ShutdownTimeout <= 0 {
		return NewValidationError("server", "shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	for _, origin := range s.AllowedOrigins {
		if origin == "" {
			return NewValidationError("server", "allowed_origins", fmt.Errorf("%w: empty origin", ErrInvalidValue))
		}
	}
	return nil
}

func (v *configValidator) validateRelay() error {
	r := v.cfg.Relay
	if err := validateURL(r.AIURL, "http", "https"); err != nil {
		return NewValidationError("relay", "ai_url", err)
	}
	if r.ChunkDelay < 0 || r.ChunkDelay > maxChunkDelay {
		return NewValidationError("relay", "chunk_delay", fmt.Errorf("%w: must be between 0 and %s", ErrInvalidValue, maxChunkDelay))
	}
	if r.BackendTimeout < 0 {
		return NewValidationError("relay", "backend_timeout", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *configValidator) validateRealtime() error {
	r := v.cfg.Realtime
	if err := validateURL(r.WSURL, "ws", "wss", "http", "https"); err != nil {
		return NewValidationError("realtime", "ws_url", err)
	}
	if r.MaxReconnectAttempts < 1 {
		return NewValidationError("realtime", "max_reconnect_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.InitialBackoff <= 0 {
		return NewValidationError("realtime", "initial_backoff", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.MaxBackoff < r.InitialBackoff {
		return NewValidationError("realtime", "max_backoff", fmt.Errorf("%w: must not be below initial_backoff", ErrInvalidValue))
	}
	if r.WriteTimeout <= 0 {
		return NewValidationError("realtime", "write_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.OutboundBuffer < 1 {
		return NewValidationError("realtime", "outbound_buffer", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.MaxRetries < 0 {
		return NewValidationError("realtime", "max_retries", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *configValidator) validateStore() error {
	s := v.cfg.Store
	if s.NotificationLimit < 1 {
		return NewValidationError("store", "notification_limit", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.SuggestionLimit < 1 {
		return NewValidationError("store", "suggestion_limit", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.InteractionBuffer < 0 {
		return NewValidationError("store", "interaction_buffer", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *configValidator) validateAPI() error {
	if err := validateURL(v.cfg.API.APIURL, "http", "https"); err != nil {
		return NewValidationError("api", "api_url", err)
	}
	return nil
}

func (v *configValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.InteractionRetentionDays < 1 {
		return NewValidationError("retention", "interaction_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.CleanupInterval < time.Minute {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be at least 1m", ErrInvalidValue))
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return ErrMissingRequiredField
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidValue, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidValue, u.Scheme)
}
