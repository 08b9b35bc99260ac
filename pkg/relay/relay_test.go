package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latzu/latzu-edge/pkg/backend"
)

type fakeBackend struct {
	resp *backend.Response
	err  error
	got  backend.MessageRequest
}

func (f *fakeBackend) SendMessage(_ context.Context, req backend.MessageRequest) (*backend.Response, error) {
	f.got = req
	return f.resp, f.err
}

// failingStream yields data, then fails.
type failingStream struct {
	data []byte
	err  error
}

func (s *failingStream) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, s.err
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

func (s *failingStream) Close() error { return nil }

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func post(t *testing.T, r http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func parseChunks(t *testing.T, body string) []Chunk {
	t.Helper()
	var chunks []Chunk
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, DataPrefix) {
			continue
		}
		var c Chunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, DataPrefix)), &c))
		chunks = append(chunks, c)
	}
	return chunks
}

func TestWriteChunk(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteChunk(&sb, Chunk{Type: ChunkContent, Content: "Hi "}))
	assert.Equal(t, "data: {\"type\":\"content\",\"content\":\"Hi \"}\n\n", sb.String())

	sb.Reset()
	require.NoError(t, WriteChunk(&sb, Chunk{Type: ChunkContent}))
	assert.Equal(t, "data: {\"type\":\"content\",\"content\":\"\"}\n\n", sb.String(), "empty word keeps the field")

	sb.Reset()
	require.NoError(t, WriteChunk(&sb, Chunk{Type: ChunkDone}))
	assert.Equal(t, "data: {\"type\":\"done\"}\n\n", sb.String())
}

func TestHandler_Validation(t *testing.T) {
	r := newRouter(NewHandler(&fakeBackend{}, Config{}))

	tests := []struct {
		name    string
		do      func() *httptest.ResponseRecorder
		wantErr string
	}{
		{
			name:    "post missing message",
			do:      func() *httptest.ResponseRecorder { return post(t, r, `{"sessionId":"s1"}`) },
			wantErr: "sessionId and message are required",
		},
		{
			name:    "post missing session",
			do:      func() *httptest.ResponseRecorder { return post(t, r, `{"message":"hi"}`) },
			wantErr: "sessionId and message are required",
		},
		{
			name:    "post invalid json",
			do:      func() *httptest.ResponseRecorder { return post(t, r, `{`) },
			wantErr: "invalid request body",
		},
		{
			name: "get missing msg",
			do: func() *httptest.ResponseRecorder {
				rec := httptest.NewRecorder()
				r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream?session=s1", nil))
				return rec
			},
			wantErr: "session and msg are required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.do()
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestHandler_SimulatedStream(t *testing.T) {
	fb := &fakeBackend{resp: &backend.Response{Reply: &backend.Reply{
		Message:     "Hello big world",
		Suggestions: []string{"More"},
		SessionID:   "backend-session",
		Metadata:    map[string]any{"flow": "x"},
	}}}
	rec := post(t, newRouter(NewHandler(fb, Config{})), `{"sessionId":"s1","message":"hi","userId":"u1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	assert.Equal(t, backend.MessageRequest{SessionID: "s1", Message: "hi", UserID: "u1"}, fb.got)

	chunks := parseChunks(t, rec.Body.String())
	require.Len(t, chunks, 5)
	assert.Equal(t, Chunk{Type: ChunkContent, Content: "Hello "}, chunks[0])
	assert.Equal(t, Chunk{Type: ChunkContent, Content: "big "}, chunks[1])
	assert.Equal(t, Chunk{Type: ChunkContent, Content: "world"}, chunks[2])
	assert.Equal(t, Chunk{Type: ChunkSuggestions, Suggestions: []string{"More"}}, chunks[3])
	assert.Equal(t, ChunkDone, chunks[4].Type)
	assert.Equal(t, "backend-session", chunks[4].SessionID)
	assert.Equal(t, "x", chunks[4].Metadata["flow"])

	var sb strings.Builder
	for _, c := range chunks[:3] {
		sb.WriteString(c.Content)
	}
	assert.Equal(t, "Hello big world", sb.String())
}

func TestHandler_SimulatedStreamDefaults(t *testing.T) {
	fb := &fakeBackend{resp: &backend.Response{Reply: &backend.Reply{Content: "solo"}}}
	rec := post(t, newRouter(NewHandler(fb, Config{})), `{"sessionId":"s1","message":"hi"}`)

	chunks := parseChunks(t, rec.Body.String())
	require.Len(t, chunks, 2, "no suggestions chunk when there are none")
	assert.Equal(t, "solo", chunks[0].Content)
	assert.Equal(t, Chunk{Type: ChunkDone, SessionID: "s1"}, chunks[1])
}

func TestHandler_ChunkDelay(t *testing.T) {
	fb := &fakeBackend{resp: &backend.Response{Reply: &backend.Reply{Message: "a b c"}}}
	r := newRouter(NewHandler(fb, Config{ChunkDelay: 10 * time.Millisecond}))

	start := time.Now()
	rec := post(t, r, `{"sessionId":"s1","message":"hi"}`)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Len(t, parseChunks(t, rec.Body.String()), 4)
}

func TestHandler_Passthrough(t *testing.T) {
	upstream := "data: {\"type\":\"content\",\"content\":\"x\"}\n\n: comment\n\ndata: {\"type\":\"done\"}\n\n"
	fb := &fakeBackend{resp: &backend.Response{Stream: io.NopCloser(strings.NewReader(upstream))}}

	rec := post(t, newRouter(NewHandler(fb, Config{})), `{"sessionId":"s1","message":"hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, upstream, rec.Body.String(), "forwarded verbatim")
}

func TestHandler_PassthroughReadFailure(t *testing.T) {
	fb := &fakeBackend{resp: &backend.Response{Stream: &failingStream{
		data: []byte("data: {\"type\":\"content\",\"content\":\"part\"}\n\n"),
		err:  errors.New("connection reset"),
	}}}

	rec := post(t, newRouter(NewHandler(fb, Config{})), `{"sessionId":"s1","message":"hi"}`)

	chunks := parseChunks(t, rec.Body.String())
	require.Len(t, chunks, 2)
	assert.Equal(t, "part", chunks[0].Content)
	assert.Equal(t, Chunk{Type: ChunkError, Error: "connection reset"}, chunks[1])
}

func TestHandler_BackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "status with body", err: &backend.StatusError{StatusCode: 500, Body: "model crashed"}, want: "model crashed"},
		{name: "status without body", err: &backend.StatusError{StatusCode: 502}, want: "backend returned HTTP 502"},
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: "dial tcp: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newRouter(NewHandler(&fakeBackend{err: tt.err}, Config{})), `{"sessionId":"s1","message":"hi"}`)

			assert.Equal(t, http.StatusOK, rec.Code, "status is committed before the backend call")
			chunks := parseChunks(t, rec.Body.String())
			require.Len(t, chunks, 1)
			assert.Equal(t, Chunk{Type: ChunkError, Error: tt.want}, chunks[0])
		})
	}
}

func TestHandler_GetDelegates(t *testing.T) {
	fb := &fakeBackend{resp: &backend.Response{Reply: &backend.Reply{Message: "ok"}}}
	r := newRouter(NewHandler(fb, Config{}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream?session=s1&msg=hello&tenant=acme", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, backend.MessageRequest{SessionID: "s1", Message: "hello", TenantID: "acme"}, fb.got)
	assert.Len(t, parseChunks(t, rec.Body.String()), 2)
}

func TestHandler_WithBackendClient(t *testing.T) {
	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "default", body["tenant_id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Hola mundo","session_id":"s1"}`))
	}))
	defer ai.Close()

	h := NewHandler(backend.NewClient(backend.Config{AIURL: ai.URL}), Config{BackendTimeout: 5 * time.Second})
	server := httptest.NewServer(newRouter(h))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/stream", "application/json", strings.NewReader(`{"sessionId":"s1","message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	chunks := parseChunks(t, string(body))
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hola ", chunks[0].Content)
	assert.Equal(t, "mundo", chunks[1].Content)
	assert.Equal(t, ChunkDone, chunks[2].Type)
}
