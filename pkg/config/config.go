package config

import "time"

// Config is the resolved configuration of the edge server and CLI.
// Every section is non-nil after Initialize or Default.
type Config struct {
	configDir string

	Server    *ServerConfig
	Relay     *RelayConfig
	Realtime  *RealtimeConfig
	Store     *StoreConfig
	API       *APIConfig
	Retention *RetentionConfig
}

// ConfigDir returns the configuration directory path. Empty for Default().
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig controls the HTTP listener and the realtime gateway.
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`

	// AllowedOrigins lists browser origins accepted by CORS and the
	// WebSocket upgrade. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// WriteTimeout bounds a single WebSocket send from the gateway.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PushToken is the bearer token internal callers present on
	// POST /api/push. Empty disables the endpoint.
	PushToken string `yaml:"push_token"`
}

// RelayConfig controls the chat stream relay.
type RelayConfig struct {
	// AIURL is the base URL of the AI service (chat completion, sessions).
	AIURL string `yaml:"ai_url"`

	// ChunkDelay paces simulated streaming of non-streaming replies.
	ChunkDelay time.Duration `yaml:"chunk_delay"`

	// BackendTimeout bounds a whole backend exchange; 0 disables it.
	BackendTimeout time.Duration `yaml:"backend_timeout"`
}

// RealtimeConfig controls the realtime transport client.
type RealtimeConfig struct {
	WSURL                string        `yaml:"ws_url"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	InitialBackoff       time.Duration `yaml:"initial_backoff"`
	MaxBackoff           time.Duration `yaml:"max_backoff"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	OutboundBuffer       int           `yaml:"outbound_buffer"`
	// MaxRetries bounds flush attempts per queued event.
	MaxRetries int `yaml:"max_retries"`
}

// StoreConfig sizes the client-side stores and the in-memory ingestion
// buffer used without a database.
type StoreConfig struct {
	NotificationLimit int `yaml:"notification_limit"`
	SuggestionLimit   int `yaml:"suggestion_limit"`
	InteractionBuffer int `yaml:"interaction_buffer"`
}

// APIConfig points at the user/profile API service.
type APIConfig struct {
	APIURL string `yaml:"api_url"`
}

// RetentionConfig controls how long recorded interactions are kept.
type RetentionConfig struct {
	// InteractionRetentionDays is measured from when an event was received.
	InteractionRetentionDays int           `yaml:"interaction_retention_days"`
	CleanupInterval          time.Duration `yaml:"cleanup_interval"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPPort:        "8080",
		AllowedOrigins:  []string{"http://localhost:3000"},
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRelayConfig returns the built-in relay defaults.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		AIURL:      "http://localhost:8000",
		ChunkDelay: 30 * time.Millisecond,
	}
}

// DefaultRealtimeConfig returns the built-in transport defaults.
func DefaultRealtimeConfig() *RealtimeConfig {
	return &RealtimeConfig{
		WSURL:                "ws://localhost:8080/ws",
		MaxReconnectAttempts: 5,
		InitialBackoff:       time.Second,
		MaxBackoff:           5 * time.Second,
		WriteTimeout:         5 * time.Second,
		OutboundBuffer:       64,
		MaxRetries:           5,
	}
}

// DefaultStoreConfig returns the built-in store limits.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		NotificationLimit: 50,
		SuggestionLimit:   5,
		InteractionBuffer: 10000,
	}
}

// DefaultAPIConfig returns the built-in API service location.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{APIURL: "http://localhost:8000"}
}

// DefaultRetentionConfig returns the built-in retention policy.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		InteractionRetentionDays: 90,
		CleanupInterval:          time.Hour,
	}
}

// Default returns a configuration made only of built-in defaults.
func Default() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Relay:     DefaultRelayConfig(),
		Realtime:  DefaultRealtimeConfig(),
		Store:     DefaultStoreConfig(),
		API:       DefaultAPIConfig(),
		Retention: DefaultRetentionConfig(),
	}
}
