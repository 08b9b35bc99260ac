// Package relay forwards chat turns to the completion service and
// re-emits the answer as a chunked event stream. Streamed backend
// responses are passed through verbatim; single-shot replies are split
// into word chunks so both look the same to the browser.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latzu/latzu-edge/pkg/backend"
)

// DefaultChunkDelay paces simulated word chunks.
const DefaultChunkDelay = 30 * time.Millisecond

const readBufferSize = 32 << 10

// Backend sends a chat turn to the completion service.
type Backend interface {
	SendMessage(ctx context.Context, req backend.MessageRequest) (*backend.Response, error)
}

// Config tunes the relay.
type Config struct {
	// ChunkDelay separates simulated word chunks. Zero disables pacing.
	ChunkDelay time.Duration
	// BackendTimeout bounds the whole backend exchange. Zero means none.
	BackendTimeout time.Duration
}

// Handler serves /api/stream. It keeps no state between requests.
type Handler struct {
	backend Backend
	cfg     Config
}

// NewHandler creates a relay handler.
func NewHandler(b Backend, cfg Config) *Handler {
	return &Handler{backend: b, cfg: cfg}
}

// StreamRequest is the body of POST /api/stream.
type StreamRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	TenantID  string `json:"tenantId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// RegisterRoutes mounts POST and GET /api/stream.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/stream", h.Post)
	r.GET("/api/stream", h.Get)
}

// Post handles POST /api/stream.
func (h *Handler) Post(c *gin.Context) {
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and message are required"})
		return
	}
	h.Stream(c.Request.Context(), c.Writer, req)
}

// Get handles GET /api/stream?session=&msg=&tenant=.
func (h *Handler) Get(c *gin.Context) {
	req := StreamRequest{
		SessionID: c.Query("session"),
		Message:   c.Query("msg"),
		TenantID:  c.Query("tenant"),
	}
	if req.SessionID == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session and msg are required"})
		return
	}
	h.Stream(c.Request.Context(), c.Writer, req)
}

// Stream answers req on w. Headers and status 200 are committed before the
// backend is called, so failures are reported as a single error chunk.
func (h *Handler) Stream(ctx context.Context, w http.ResponseWriter, req StreamRequest) {
	SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flush := flusherFor(w)
	flush()

	if h.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.BackendTimeout)
		defer cancel()
	}

	resp, err := h.backend.SendMessage(ctx, backend.MessageRequest{
		SessionID: req.SessionID,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		Message:   req.Message,
	})
	if err != nil {
		slog.Warn("Chat backend request failed", "session_id", req.SessionID, "error", err)
		h.writeError(w, flush, errorText(err))
		return
	}

	if resp.Stream != nil {
		defer resp.Stream.Close()
		h.forward(ctx, w, flush, resp.Stream, req.SessionID)
		return
	}
	h.simulate(ctx, w, flush, resp.Reply, req.SessionID)
}

// forward copies the backend event stream byte for byte, flushing after
// every read.
func (h *Handler) forward(ctx context.Context, w io.Writer, flush func(), body io.Reader, sessionID string) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				slog.Debug("Client went away during stream", "session_id", sessionID, "error", werr)
				return
			}
			flush()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			slog.Debug("Stream cancelled", "session_id", sessionID)
			return
		}
		slog.Error("Chat backend stream read failed", "session_id", sessionID, "error", err)
		h.writeError(w, flush, err.Error())
		return
	}
}

// simulate replays a single-shot reply as word chunks, then suggestions
// and a done chunk.
func (h *Handler) simulate(ctx context.Context, w io.Writer, flush func(), reply *backend.Reply, sessionID string) {
	if reply == nil {
		reply = &backend.Reply{}
	}

	words := strings.Split(reply.Text(), " ")
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		if err := WriteChunk(w, Chunk{Type: ChunkContent, Content: word}); err != nil {
			slog.Debug("Client went away during stream", "session_id", sessionID, "error", err)
			return
		}
		flush()
		if !h.pause(ctx) {
			return
		}
	}

	if len(reply.Suggestions) > 0 {
		if err := WriteChunk(w, Chunk{Type: ChunkSuggestions, Suggestions: reply.Suggestions}); err != nil {
			return
		}
		flush()
	}

	done := Chunk{Type: ChunkDone, SessionID: reply.SessionID, Metadata: reply.Metadata}
	if done.SessionID == "" {
		done.SessionID = sessionID
	}
	if err := WriteChunk(w, done); err != nil {
		return
	}
	flush()
}

// pause waits ChunkDelay. It reports false when ctx ends first.
func (h *Handler) pause(ctx context.Context) bool {
	if h.cfg.ChunkDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(h.cfg.ChunkDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (h *Handler) writeError(w io.Writer, flush func(), msg string) {
	if err := WriteChunk(w, Chunk{Type: ChunkError, Error: msg}); err != nil {
		slog.Debug("Failed to write error chunk", "error", err)
		return
	}
	flush()
}

// errorText is the message carried by an error chunk: the backend's
// response text when it sent one.
func errorText(err error) string {
	var se *backend.StatusError
	if errors.As(err, &se) && se.Body != "" {
		return se.Body
	}
	return err.Error()
}

func flusherFor(w http.ResponseWriter) func() {
	f, ok := w.(http.Flusher)
	if !ok {
		return func() {}
	}
	return f.Flush
}
