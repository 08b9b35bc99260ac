package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/realtime"
	"github.com/latzu/latzu-edge/pkg/store"
)

func newTailCmd(opts *options) *cobra.Command {
	var (
		types    []string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print push events delivered to a user",
		Long: `Connect to the realtime gateway as --user and print every push event
as one JSON line until interrupted.

Examples:
  latzuctl tail --user u1
  latzuctl tail --user u1 --type achievement --type notification
  latzuctl tail --user u1 --for 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range types {
				if !events.IsPushType(t) {
					return fmt.Errorf("unknown push type %q", t)
				}
			}
			if len(types) == 0 {
				types = events.PushTypes
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.setup(ctx)
			if err != nil {
				return err
			}

			eventStore := store.NewEventStore(cfg.Store.NotificationLimit)
			chatStore := store.NewChatStore(cfg.Store.SuggestionLimit)
			client := realtime.NewClient(realtimeConfig(cfg.Realtime), eventStore, chatStore)

			enc := json.NewEncoder(opts.out)
			for _, t := range types {
				sub := client.On(t, func(f events.Frame) {
					_ = enc.Encode(f)
				})
				defer sub.Unsubscribe()
			}

			if err := client.Connect(ctx, opts.userID, opts.tenantID); err != nil {
				return err
			}
			defer client.Disconnect()
			printStep("Connected to %s as %s/%s", cfg.Realtime.WSURL, opts.tenantID, opts.userID)

			if duration > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(duration):
				}
			} else {
				<-ctx.Done()
			}

			printStatus("notifications", "%d (%d unread)", len(eventStore.Notifications()), eventStore.UnreadCount())
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&types, "type", nil, "push type to print (repeatable, default all)")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}
