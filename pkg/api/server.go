// Package api wires the edge HTTP surface: the chat stream relay, the
// realtime WebSocket gateway, internal push publishing and interaction
// queries.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/latzu/latzu-edge/pkg/config"
	"github.com/latzu/latzu-edge/pkg/database"
	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/relay"
)

// InteractionStore records and serves interaction events.
// Implemented by services.InteractionService and services.MemoryInteractionStore.
type InteractionStore interface {
	events.InteractionSink
	Get(ctx context.Context, eventID string) (*events.InteractionEvent, error)
	ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]events.InteractionEvent, error)
}

// Server is the HTTP API server.
type Server struct {
	cfg          *config.ServerConfig
	router       *gin.Engine
	handler      http.Handler
	mu           sync.Mutex
	httpServer   *http.Server
	dbClient     *database.Client // nil without a database
	connManager  *events.ConnectionManager
	publisher    events.Publisher
	interactions InteractionStore
	relay        *relay.Handler
}

// NewServer creates a new API server with gin and registers all routes.
func NewServer(
	cfg *config.ServerConfig,
	connManager *events.ConnectionManager,
	publisher events.Publisher,
	interactions InteractionStore,
	relayHandler *relay.Handler,
) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{
		cfg:          cfg,
		router:       router,
		connManager:  connManager,
		publisher:    publisher,
		interactions: interactions,
		relay:        relayHandler,
	}
	s.setupRoutes()
	s.handler = corsHandler(cfg.AllowedOrigins).Handler(router)
	return s
}

// SetDatabase sets the database client reported by /health.
func (s *Server) SetDatabase(dbClient *database.Client) {
	s.dbClient = dbClient
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ws", s.wsHandler)

	api := s.router.Group("/api")
	if s.relay != nil {
		s.relay.RegisterRoutes(api)
	}
	api.POST("/push", requireBearerToken(s.cfg.PushToken), s.pushHandler)
	api.POST("/interactions", s.ingestInteractionHandler)
	api.GET("/interactions", s.listInteractionsHandler)
	api.GET("/interactions/:id", s.getInteractionHandler)
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln and blocks until Shutdown. Request contexts
// derive from ctx, so cancelling it closes WebSocket connections that
// Shutdown does not track. Returns nil after a graceful shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// No WriteTimeout: SSE streams and WebSocket connections are long-lived.
	srv := &http.Server{
		Handler:     s.handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	slog.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func corsHandler(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		MaxAge:           86400,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", headerUserID, headerTenantID},
	})
}
