package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ChunkType discriminates stream chunks.
type ChunkType string

const (
	ChunkContent     ChunkType = "content"
	ChunkSuggestions ChunkType = "suggestions"
	ChunkDone        ChunkType = "done"
	ChunkError       ChunkType = "error"
)

// Chunk is one event of the chat stream, framed as `data: <json>\n\n`.
type Chunk struct {
	Type        ChunkType      `json:"type"`
	Content     string         `json:"content,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// MarshalJSON always writes content on content chunks, even when empty.
func (c Chunk) MarshalJSON() ([]byte, error) {
	type plain Chunk
	if c.Type != ChunkContent {
		return json.Marshal(plain(c))
	}
	return json.Marshal(struct {
		plain
		Content string `json:"content"`
	}{plain(c), c.Content})
}

// DataPrefix starts every chunk line.
const DataPrefix = "data: "

// WriteChunk frames c onto w.
func WriteChunk(w io.Writer, c Chunk) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode %s chunk: %w", c.Type, err)
	}
	if _, err := fmt.Fprintf(w, "%s%s\n\n", DataPrefix, b); err != nil {
		return fmt.Errorf("write %s chunk: %w", c.Type, err)
	}
	return nil
}

// SetStreamHeaders marks a response as an unbuffered event stream.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx
}
