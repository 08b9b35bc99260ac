package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/latzu/latzu-edge/pkg/api"
	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/realtime"
	"github.com/latzu/latzu-edge/pkg/tracking"
)

// httpEmitter delivers tracked interactions through POST /api/interactions.
// The first failure is kept and later emissions are skipped.
type httpEmitter struct {
	ctx        context.Context
	httpClient *http.Client
	url        string
	userID     string
	tenantID   string

	results []api.IngestResponse
	err     error
}

func (e *httpEmitter) EmitInteraction(event events.InteractionEvent) {
	if e.err != nil {
		return
	}
	res, err := e.post(event)
	if err != nil {
		e.err = err
		return
	}
	e.results = append(e.results, *res)
}

func (e *httpEmitter) post(event events.InteractionEvent) (*api.IngestResponse, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode interaction: %w", err)
	}
	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(realtime.HeaderUserID, e.userID)
	req.Header.Set(realtime.HeaderTenantID, e.tenantID)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("ingest rejected (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("ingest rejected (%d): %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out api.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ingest response: %w", err)
	}
	return &out, nil
}

// emitFlags are the tracking options shared by every emit subcommand.
type emitFlags struct {
	sessionID string
	topic     string
	intent    string
	graphID   string
}

func (f *emitFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sessionID, "session", "", "chat session ID")
	cmd.Flags().StringVar(&f.topic, "topic", "", "current topic")
	cmd.Flags().StringVar(&f.intent, "intent", "", "user intent")
	cmd.Flags().StringVar(&f.graphID, "graph", "", "knowledge graph ID")
}

func (f *emitFlags) options() tracking.Options {
	return tracking.Options{
		SessionID:    f.sessionID,
		CurrentTopic: f.topic,
		UserIntent:   f.intent,
		GraphID:      f.graphID,
	}
}

func newEmitCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Record an interaction event",
		Long: `Record one interaction event for --user through the HTTP ingestion
endpoint and print the stored event ID.

Examples:
  latzuctl emit chat --user u1 --text "what is a monad?"
  latzuctl emit question --user u1 --text "why?" --topic functors
  latzuctl emit navigation --user u1 --from /home --to /lessons/3
  latzuctl emit concept --user u1 --id c42 --name Recursion`,
	}

	cmd.AddCommand(newEmitSubCmd(opts, "chat", "Record a chat message", func(cmd *cobra.Command, t *tracking.Tracker, o tracking.Options) error {
		text, _ := cmd.Flags().GetString("text")
		if text == "" {
			return fmt.Errorf("--text is required")
		}
		t.TrackChatMessage(text, o.SessionID, o)
		return nil
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("text", "", "message text")
	}))

	cmd.AddCommand(newEmitSubCmd(opts, "question", "Record a question", func(cmd *cobra.Command, t *tracking.Tracker, o tracking.Options) error {
		text, _ := cmd.Flags().GetString("text")
		if text == "" {
			return fmt.Errorf("--text is required")
		}
		t.TrackQuestion(text, o)
		return nil
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("text", "", "question text")
	}))

	cmd.AddCommand(newEmitSubCmd(opts, "navigation", "Record a page navigation", func(cmd *cobra.Command, t *tracking.Tracker, o tracking.Options) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		if to == "" {
			return fmt.Errorf("--to is required")
		}
		t.TrackNavigation(from, to, o)
		return nil
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("from", "", "previous path")
		cmd.Flags().String("to", "", "new path")
	}))

	cmd.AddCommand(newEmitSubCmd(opts, "concept", "Record a concept exploration", func(cmd *cobra.Command, t *tracking.Tracker, o tracking.Options) error {
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		t.TrackConceptExploration(id, name, o)
		return nil
	}, func(cmd *cobra.Command) {
		cmd.Flags().String("id", "", "concept ID")
		cmd.Flags().String("name", "", "concept name")
	}))

	return cmd
}

func newEmitSubCmd(
	opts *options,
	use, short string,
	track func(*cobra.Command, *tracking.Tracker, tracking.Options) error,
	flags func(*cobra.Command),
) *cobra.Command {
	ef := &emitFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.setup(cmd.Context()); err != nil {
				return err
			}
			emitter := &httpEmitter{
				ctx:        cmd.Context(),
				httpClient: &http.Client{Timeout: 10 * time.Second},
				url:        opts.endpoint("/api/interactions"),
				userID:     opts.userID,
				tenantID:   opts.tenantID,
			}
			tracker := tracking.New(emitter, opts.tenantID, opts.userID)
			if err := track(cmd, tracker, ef.options()); err != nil {
				return err
			}
			if emitter.err != nil {
				return emitter.err
			}
			for _, r := range emitter.results {
				state := "stored"
				if !r.Inserted {
					state = "duplicate"
				}
				fmt.Fprintf(opts.out, "%s %s\n", r.EventID, state)
			}
			return nil
		},
	}
	ef.bind(cmd)
	flags(cmd)
	return cmd
}
