// latzu-edge server: chat stream relay, realtime WebSocket gateway and
// interaction ingestion in front of the AI and platform services.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/latzu/latzu-edge/pkg/api"
	"github.com/latzu/latzu-edge/pkg/backend"
	"github.com/latzu/latzu-edge/pkg/cleanup"
	"github.com/latzu/latzu-edge/pkg/config"
	"github.com/latzu/latzu-edge/pkg/database"
	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/relay"
	"github.com/latzu/latzu-edge/pkg/services"
	"github.com/latzu/latzu-edge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupLogging installs the default slog handler.
// LOG_FORMAT: "json" (default) or "text". LOG_LEVEL: debug, info, warn, error.
func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(getEnv("LOG_FORMAT", "json"), "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	envErr := godotenv.Load(envPath)
	setupLogging()
	if envErr != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", envErr)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting latzu-edge",
		"version", version.Full(),
		"config_dir", *configDir)

	if err := run(*configDir); err != nil {
		slog.Error("latzu-edge exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return err
	}

	// 2. Interaction storage and push fan-out: PostgreSQL when configured,
	// in-process otherwise.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	var (
		dbClient     *database.Client
		interactions api.InteractionStore
		pruner       cleanup.InteractionPruner
		publisher    events.Publisher
		listener     *events.NotifyListener
	)
	if dbConfig.Enabled() {
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			return err
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database", "host", dbConfig.Host, "database", dbConfig.Database)
		svc := services.NewInteractionService(dbClient.DB())
		interactions, pruner = svc, svc
	} else {
		slog.Warn("DB_HOST not set, interactions are kept in memory",
			"max_events", cfg.Store.InteractionBuffer)
		mem := services.NewMemoryInteractionStore(cfg.Store.InteractionBuffer)
		interactions, pruner = mem, mem
	}

	cleanupService := cleanup.NewService(cfg.Retention, pruner)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 3. Realtime gateway
	connManager := events.NewConnectionManager(interactions, cfg.Server.WriteTimeout)
	if dbClient != nil {
		publisher = events.NewEventPublisher(dbClient.DB())

		// Dedicated pgx connection for LISTEN
		listener = events.NewNotifyListener(dbClient.ConnString(), connManager)
		if err := listener.Start(ctx); err != nil {
			return err
		}
		defer listener.Stop(context.Background())
		connManager.SetListener(listener)
	} else {
		publisher = events.NewLocalPublisher(connManager)
	}
	slog.Info("Realtime gateway initialized", "cross_instance", listener != nil)

	// 4. Chat stream relay
	backendClient := backend.NewClient(backend.Config{
		AIURL:  cfg.Relay.AIURL,
		APIURL: cfg.API.APIURL,
	})
	relayHandler := relay.NewHandler(backendClient, relay.Config{
		ChunkDelay:     cfg.Relay.ChunkDelay,
		BackendTimeout: cfg.Relay.BackendTimeout,
	})

	// 5. HTTP server
	if cfg.Server.PushToken == "" {
		slog.Warn("server.push_token not set, POST /api/push is disabled")
	}
	server := api.NewServer(cfg.Server, connManager, publisher, interactions, relayHandler)
	if dbClient != nil {
		server.SetDatabase(dbClient)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, ":"+cfg.Server.HTTPPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "cause", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	slog.Info("latzu-edge started successfully",
		"http_port", cfg.Server.HTTPPort,
		"ai_url", cfg.Relay.AIURL)

	return g.Wait()
}
