package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/latzu/latzu-edge/pkg/backend"
	"github.com/latzu/latzu-edge/pkg/config"
	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/realtime"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configDir string
	edgeURL   string
	wsURL     string
	aiURL     string
	apiURL    string
	userID    string
	tenantID  string
	token     string
	verbose   bool

	out io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &options{out: os.Stdout}

	root := &cobra.Command{
		Use:           "latzuctl",
		Short:         "Command-line client for latzu-edge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			opts.out = cmd.OutOrStdout()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configDir, "config-dir", os.Getenv("CONFIG_DIR"), "configuration directory holding latzu.yaml (built-in defaults when empty)")
	flags.StringVar(&opts.edgeURL, "edge-url", "http://localhost:8080", "latzu-edge base URL")
	flags.StringVar(&opts.wsURL, "ws-url", "", "realtime gateway URL (defaults to realtime.ws_url)")
	flags.StringVar(&opts.aiURL, "ai-url", "", "chat completion service URL used for sessions (defaults to relay.ai_url)")
	flags.StringVar(&opts.apiURL, "api-url", "", "platform API URL used to resolve --token (defaults to api.api_url)")
	flags.StringVar(&opts.userID, "user", os.Getenv("LATZU_USER_ID"), "user ID")
	flags.StringVar(&opts.tenantID, "tenant", events.DefaultTenantID, "tenant ID")
	flags.StringVar(&opts.token, "token", os.Getenv("LATZU_TOKEN"), "platform API token; resolves --user and --tenant when --user is empty")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newTailCmd(opts))
	root.AddCommand(newEmitCmd(opts))
	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newWhoamiCmd(opts))
	return root
}

// loadConfig returns the configuration from --config-dir with the URL
// flags applied on top.
func (o *options) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg := config.Default()
	if o.configDir != "" {
		loaded, err := config.Initialize(ctx, o.configDir)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.wsURL != "" {
		cfg.Realtime.WSURL = o.wsURL
	}
	if o.apiURL != "" {
		cfg.API.APIURL = o.apiURL
	}
	if o.aiURL != "" {
		cfg.Relay.AIURL = o.aiURL
	}
	return cfg, nil
}

// setup loads the configuration and resolves the caller identity.
func (o *options) setup(ctx context.Context) (*config.Config, error) {
	cfg, err := o.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if o.userID != "" {
		return cfg, nil
	}
	if o.token == "" {
		return nil, fmt.Errorf("--user or --token is required")
	}
	profile, err := o.profile(ctx, cfg)
	if err != nil {
		return nil, err
	}
	o.userID = profile.ID
	if profile.TenantID != "" && o.tenantID == events.DefaultTenantID {
		o.tenantID = profile.TenantID
	}
	return cfg, nil
}

func (o *options) profile(ctx context.Context, cfg *config.Config) (*backend.Profile, error) {
	client := backend.NewClient(backend.Config{APIURL: cfg.API.APIURL, Timeout: 10 * time.Second})
	return client.GetProfile(ctx, o.token)
}

// endpoint joins path onto the edge base URL.
func (o *options) endpoint(path string) string {
	return strings.TrimRight(o.edgeURL, "/") + path
}

// realtimeConfig maps the realtime section onto the transport client config.
func realtimeConfig(rc *config.RealtimeConfig) realtime.Config {
	cfg := realtime.DefaultConfig(rc.WSURL)
	cfg.MaxReconnectAttempts = rc.MaxReconnectAttempts
	cfg.InitialBackoff = rc.InitialBackoff
	cfg.MaxBackoff = rc.MaxBackoff
	cfg.WriteTimeout = rc.WriteTimeout
	cfg.OutboundBuffer = rc.OutboundBuffer
	cfg.MaxRetries = rc.MaxRetries
	return cfg
}
