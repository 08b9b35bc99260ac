package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/latzu/latzu-edge/pkg/backend"
	"github.com/latzu/latzu-edge/pkg/chat"
	"github.com/latzu/latzu-edge/pkg/store"
)

func newChatCmd(opts *options) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one chat message through the stream relay",
		Long: `Send a message to the chat relay and print the assistant reply once the
stream completes. A new session is created unless --session is given.

Examples:
  latzuctl chat --user u1 "explain closures"
  latzuctl chat --user u1 --session s-123 "and in Go?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.setup(ctx)
			if err != nil {
				return err
			}

			chatStore := store.NewChatStore(cfg.Store.SuggestionLimit)
			sessions := backend.NewClient(backend.Config{AIURL: cfg.Relay.AIURL})
			client := chat.NewClient(chat.Config{
				StreamURL: opts.endpoint("/api/stream"),
				TenantID:  opts.tenantID,
				UserID:    opts.userID,
			}, chatStore, sessions, nil)

			if sessionID != "" {
				if err := client.LoadSession(ctx, sessionID); err != nil {
					return err
				}
			}

			if err := client.SendMessage(ctx, strings.Join(args, " ")); err != nil {
				return err
			}

			reply, ok := lastAssistantMessage(chatStore.Messages())
			if !ok {
				return fmt.Errorf("no reply received")
			}
			fmt.Fprintln(opts.out, reply.Content)
			for _, s := range reply.Suggestions {
				printStatus("suggestion", "%s", s)
			}
			if session, ok := chatStore.Session(); ok {
				printStatus("session", "%s", session.SessionID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing chat session")
	return cmd
}

func lastAssistantMessage(messages []store.ChatMessage) (store.ChatMessage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == store.RoleAssistant {
			return messages[i], true
		}
	}
	return store.ChatMessage{}, false
}
