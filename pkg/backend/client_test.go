package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(server *httptest.Server) *Client {
	c := NewClient(Config{AIURL: server.URL + "/", APIURL: server.URL})
	c.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return c
}

func TestClient_SendMessage(t *testing.T) {
	t.Run("request body", func(t *testing.T) {
		var got map[string]any
		var gotPath, gotType string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotType = r.Header.Get("Content-Type")
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message":"ok","session_id":"s1"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server).SendMessage(context.Background(), MessageRequest{
			SessionID: "s1", Message: "hello", UserID: "u1",
		})
		require.NoError(t, err)

		assert.Equal(t, "/ai/chat/messages", gotPath)
		assert.Equal(t, "application/json", gotType)
		assert.Equal(t, "s1", got["session_id"])
		assert.Equal(t, "default", got["tenant_id"])
		assert.Equal(t, "hello", got["message"])
		assert.Equal(t, "u1", got["user_id"])
		assert.Equal(t, map[string]any{"source": "frontend", "timestamp": "2025-03-01T10:00:00Z"}, got["metadata"])
	})

	t.Run("json reply", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"content":"from content","suggestions":["a"],"metadata":{"k":1}}`))
		}))
		defer server.Close()

		resp, err := newTestClient(server).SendMessage(context.Background(), MessageRequest{SessionID: "s1", Message: "m"})
		require.NoError(t, err)
		require.NotNil(t, resp.Reply)
		assert.Nil(t, resp.Stream)
		assert.Equal(t, "from content", resp.Reply.Text())
		assert.Equal(t, []string{"a"}, resp.Reply.Suggestions)
	})

	t.Run("event stream is returned unread", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
			_, _ = w.Write([]byte("data: {\"type\":\"content\",\"content\":\"hi\"}\n\n"))
		}))
		defer server.Close()

		resp, err := newTestClient(server).SendMessage(context.Background(), MessageRequest{SessionID: "s1", Message: "m"})
		require.NoError(t, err)
		require.NotNil(t, resp.Stream)
		defer resp.Stream.Close()

		body, err := io.ReadAll(resp.Stream)
		require.NoError(t, err)
		assert.Equal(t, "data: {\"type\":\"content\",\"content\":\"hi\"}\n\n", string(body))
	})

	t.Run("non-OK status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newTestClient(server).SendMessage(context.Background(), MessageRequest{SessionID: "s1", Message: "m"})
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
		assert.Equal(t, "model overloaded", se.Body)
	})
}

func TestClient_Sessions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/ai/chat/sessions":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"session_id": "new-session",
				"tenant_id":  req["tenant_id"],
				"created_at": "2025-03-01T10:00:00.123456",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/ai/chat/sessions/s1":
			_, _ = w.Write([]byte(`{
				"session_id":"s1","tenant_id":"acme","message_count":2,"has_active_flow":true,
				"created_at":"2025-03-01T10:00:00Z","updated_at":"2025-03-01T10:05:00Z",
				"messages":[{"role":"user","content":"hi","timestamp":"2025-03-01T10:00:01Z"},
				            {"role":"assistant","content":"hello","timestamp":"2025-03-01T10:00:02Z"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	c := newTestClient(server)

	created, err := c.CreateSession(context.Background(), CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "new-session", created.SessionID)
	assert.Equal(t, "default", created.TenantID)

	s, err := c.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.MessageCount)
	assert.True(t, s.HasActiveFlow)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "assistant", s.Messages[1].Role)

	_, err = c.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_GetProfile(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/users/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"u1","tenantId":"acme","role":"user","needsOnboarding":true}`))
	}))
	defer server.Close()

	p, err := newTestClient(server).GetProfile(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "acme", p.TenantID)
	assert.True(t, p.NeedsOnboarding)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2025-03-01T10:00:00Z", want: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2025-03-01T12:00:00+02:00", want: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2025-03-01T10:00:00.5", want: time.Date(2025, 3, 1, 10, 0, 0, 500000000, time.UTC)},
		{in: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, "backend returned HTTP 502", (&StatusError{StatusCode: 502}).Error())
	assert.Equal(t, "backend returned HTTP 400: bad", (&StatusError{StatusCode: 400, Body: "bad"}).Error())
	assert.False(t, IsNotFound(errors.New("x")))
}
