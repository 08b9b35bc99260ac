package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latzu/latzu-edge/pkg/database"
	"github.com/latzu/latzu-edge/test/util"
)

// replica is one gateway process: its own ConnectionManager, NotifyListener
// and WebSocket endpoint, sharing the database with the other replicas.
type replica struct {
	manager  *ConnectionManager
	listener *NotifyListener
	server   *httptest.Server
}

// streamingTestEnv holds all wired-up components for an integration test.
type streamingTestEnv struct {
	dbClient  *database.Client
	publisher *EventPublisher
	replicas  []*replica
}

// setupStreamingTest wires n gateway replicas against a real PostgreSQL
// database (testcontainers locally, service container in CI).
func setupStreamingTest(t *testing.T, n int) *streamingTestEnv {
	t.Helper()

	dbClient := util.NewTestClient(t)
	// NotifyListener needs the base connection string (no schema search_path)
	// because NOTIFY/LISTEN is database-level, not schema-level.
	baseConnStr := util.GetBaseConnectionString(t)

	env := &streamingTestEnv{
		dbClient:  dbClient,
		publisher: NewEventPublisher(dbClient.DB()),
	}
	for range n {
		env.replicas = append(env.replicas, startReplica(t, baseConnStr))
	}
	return env
}

func startReplica(t *testing.T, connStr string) *replica {
	t.Helper()
	ctx := context.Background()

	manager := NewConnectionManager(newRecordingSink(), 5*time.Second)
	listener := NewNotifyListener(connStr, manager)
	require.NoError(t, listener.Start(ctx))
	manager.SetListener(listener)
	t.Cleanup(func() { listener.Stop(context.Background()) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		identity := Identity{
			TenantID: r.URL.Query().Get("tenant_id"),
			UserID:   r.URL.Query().Get("user_id"),
		}
		manager.HandleConnection(r.Context(), conn, identity)
	}))
	t.Cleanup(server.Close)

	return &replica{manager: manager, listener: listener, server: server}
}

// connectAndWait opens a connection for identity, reads
// connection.established and waits for the LISTEN to propagate.
func (r *replica) connectAndWait(t *testing.T, identity Identity) *websocket.Conn {
	t.Helper()
	conn := connectWS(t, r.server, identity.TenantID, identity.UserID)

	msg := readJSON(t, conn)
	require.Equal(t, EventTypeConnectionEstablished, msg["type"])

	// Poll instead of sleeping: LISTEN runs on the listener's own goroutine.
	require.Eventually(t, func() bool {
		return r.listener.isListening(identity.Channel())
	}, 5*time.Second, 10*time.Millisecond, "LISTEN did not propagate for %s", identity.Channel())
	return conn
}

func uniqueIdentity(t *testing.T) Identity {
	t.Helper()
	return Identity{TenantID: "acme", UserID: "it-" + uuid.New().String()[:8]}
}

// --- Tests ---

func TestIntegration_PublishToWebSocket(t *testing.T) {
	env := setupStreamingTest(t, 1)
	identity := uniqueIdentity(t)
	conn := env.replicas[0].connectAndWait(t, identity)

	err := env.publisher.Publish(context.Background(), identity, PushTypeAchievement, AchievementPayload{
		Title:   "First steps",
		Message: "Completed your first lesson",
	})
	require.NoError(t, err)

	// pg_notify → listener → manager → WebSocket
	msg := readJSON(t, conn)
	assert.Equal(t, PushTypeAchievement, msg["type"])
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok, "push frame should carry data")
	assert.Equal(t, "First steps", data["title"])
	assert.NotEmpty(t, msg["timestamp"])
}

func TestIntegration_FanOutAcrossReplicas(t *testing.T) {
	env := setupStreamingTest(t, 2)
	identity := uniqueIdentity(t)
	other := uniqueIdentity(t)

	connA := env.replicas[0].connectAndWait(t, identity)
	connB := env.replicas[1].connectAndWait(t, identity)
	connOther := env.replicas[1].connectAndWait(t, other)

	err := env.publisher.Publish(context.Background(), identity, PushTypeNotification, NotificationPayload{
		Title:   "Heads up",
		Message: "A new lesson is available",
	})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := readJSON(t, conn)
		assert.Equal(t, PushTypeNotification, msg["type"])
	}
	expectNoMessage(t, connOther)
}

func TestIntegration_LongIdentityUsesHashedChannel(t *testing.T) {
	env := setupStreamingTest(t, 1)
	identity := Identity{
		TenantID: "tenant-" + strings.Repeat("t", 40),
		UserID:   "user-" + uuid.New().String(),
	}
	require.Greater(t, len(identity.Channel()), maxChannelLength)

	conn := env.replicas[0].connectAndWait(t, identity)

	err := env.publisher.Publish(context.Background(), identity, PushTypeKnowledgeUpdate, map[string]any{"node": "n1"})
	require.NoError(t, err)

	msg := readJSON(t, conn)
	assert.Equal(t, PushTypeKnowledgeUpdate, msg["type"])
}

func TestIntegration_UnlistenAfterLastConnection(t *testing.T) {
	env := setupStreamingTest(t, 1)
	r := env.replicas[0]
	identity := uniqueIdentity(t)

	first := r.connectAndWait(t, identity)
	second := connectWS(t, r.server, identity.TenantID, identity.UserID)
	readJSON(t, second) // connection.established
	require.Eventually(t, func() bool {
		return r.manager.subscriberCount(identity.Channel()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, first.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return r.manager.subscriberCount(identity.Channel()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, r.listener.isListening(identity.Channel()), "channel must stay listened while a subscriber remains")

	require.NoError(t, second.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return !r.listener.isListening(identity.Channel())
	}, 5*time.Second, 10*time.Millisecond, "UNLISTEN did not propagate")
}

func TestIntegration_UnknownPushTypeNotNotified(t *testing.T) {
	env := setupStreamingTest(t, 1)
	identity := uniqueIdentity(t)
	conn := env.replicas[0].connectAndWait(t, identity)

	err := env.publisher.Publish(context.Background(), identity, "session.deleted", map[string]any{})
	require.ErrorIs(t, err, ErrUnknownPushType)
	expectNoMessage(t, conn)
}
