package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"devconnect/identity"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver map[string]identity.Identity

func (s staticResolver) Resolve(_ context.Context, id string) identity.Identity {
	if ident, ok := s[id]; ok {
		return ident
	}
	return identity.Identity{Canonical: id}
}

// tokens are "tok-<userId>" in these tests.
func testAuth(token string) (string, error) {
	if !strings.HasPrefix(token, "tok-") {
		return "", errors.New("bad token")
	}
	return strings.TrimPrefix(token, "tok-"), nil
}

type recordingStore struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingStore) SetOnline(_ context.Context, id string, online bool, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if online {
		r.calls = append(r.calls, id+":online")
	} else {
		r.calls = append(r.calls, id+":offline")
	}
	return nil
}

func (r *recordingStore) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func startManager(t *testing.T, opts ...Option) (*Manager, *httptest.Server) {
	t.Helper()
	resolver := staticResolver{"u1": {Canonical: "u1", Alternates: []string{"google-u1"}}}
	m := NewManager(testAuth, resolver, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)
	srv := httptest.NewServer(http.HandlerFunc(m.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	readEvent(t, conn, EventConnected)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: event, Payload: raw}))
}

// readEvent skips frames until one of type event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Type != event {
			continue
		}
		var payload map[string]interface{}
		if len(env.Payload) > 0 {
			require.NoError(t, json.Unmarshal(env.Payload, &payload))
		}
		return payload
	}
}

func waitRoom(t *testing.T, m *Manager, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.RoomSize(room) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWSRejectsBadToken(t *testing.T) {
	_, srv := startManager(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=garbage"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientJoinsEveryPersonalRoom(t *testing.T) {
	m, srv := startManager(t)
	conn := dial(t, srv, "tok-u1")
	waitRoom(t, m, "user:google-u1", 1)

	m.Emit("notification", map[string]string{"title": "hi"}, "user:google-u1", "user:u1")

	payload := readEvent(t, conn, "notification")
	assert.Equal(t, "hi", payload["title"])

	// a client in two target rooms gets the event once
	m.Emit("ping_room", map[string]int{"n": 1}, "user:u1")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var next Envelope
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "ping_room", next.Type)
}

func readStatus(t *testing.T, conn *websocket.Conn, userID, status string) {
	t.Helper()
	for {
		payload := readEvent(t, conn, EventUserStatus)
		if payload["userId"] == userID {
			assert.Equal(t, status, payload["status"])
			return
		}
	}
}

func TestJoinRules(t *testing.T) {
	m, srv := startManager(t)
	conn := dial(t, srv, "tok-u1")
	waitRoom(t, m, "user:u1", 1)

	send(t, conn, "join", map[string]string{"room": "post:p1"})
	readEvent(t, conn, EventJoined)
	assert.Equal(t, 1, m.RoomSize("post:p1"))

	send(t, conn, "join", map[string]string{"room": "user:someone-else"})
	errPayload := readEvent(t, conn, EventError)
	assert.Contains(t, errPayload["message"], "another user")
	assert.Equal(t, 0, m.RoomSize("user:someone-else"))

	send(t, conn, "join", map[string]string{"room": "lobby"})
	readEvent(t, conn, EventError)

	send(t, conn, "leave", map[string]string{"room": "post:p1"})
	readEvent(t, conn, EventLeft)
	assert.Equal(t, 0, m.RoomSize("post:p1"))
}

func TestPresenceLifecycle(t *testing.T) {
	store := &recordingStore{}
	m, srv := startManager(t, WithPresenceStore(store))

	watcher := dial(t, srv, "tok-u2")
	waitRoom(t, m, "user:u2", 1)

	first := dial(t, srv, "tok-u1")
	readStatus(t, watcher, "u1", "online")

	send(t, watcher, "get_online_users", nil)
	online := readEvent(t, watcher, EventInitialOnlineUsers)
	assert.ElementsMatch(t, []interface{}{"u1", "u2"}, online["userIds"])
	assert.True(t, m.IsOnline(context.Background(), "u1"))

	require.NoError(t, first.Close())
	readStatus(t, watcher, "u1", "offline")

	require.Eventually(t, func() bool {
		return len(store.snapshot()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"u2:online", "u1:online", "u1:offline"}, store.snapshot())
}

func TestHeartbeatAndRelay(t *testing.T) {
	m, srv := startManager(t)
	a := dial(t, srv, "tok-u1")
	b := dial(t, srv, "tok-u2")
	waitRoom(t, m, "user:u2", 1)

	send(t, a, "ping_heartbeat", nil)
	readEvent(t, a, EventPongHeartbeat)

	send(t, a, "stream_offer", map[string]string{"to": "u2", "sdp": "v=0"})
	offer := readEvent(t, b, "stream_offer")
	assert.Equal(t, "u1", offer["from"])
	assert.Equal(t, "v=0", offer["sdp"])

	send(t, a, "typing_start", map[string]string{})
	readEvent(t, a, EventError)
}

func TestBridgeDeliversAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	nodeA, _ := startManager(t, WithBridge(NewRedisBridge(rdb, "")))
	nodeB, srvB := startManager(t, WithBridge(NewRedisBridge(rdb, "")))
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	conn := dial(t, srvB, "tok-u1")
	waitRoom(t, nodeB, "user:u1", 1)

	nodeA.Emit("new_message", map[string]string{"content": "cross-node"}, "user:u1")
	msg := readEvent(t, conn, "new_message")
	assert.Equal(t, "cross-node", msg["content"])
}

func TestRedisPresenceCountsConnections(t *testing.T) {
	mr := miniredis.RunT(t)
	p := NewRedisPresence(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	ctx := context.Background()

	assert.True(t, p.Connect(ctx, "u1"))
	assert.False(t, p.Connect(ctx, "u1"))
	assert.Equal(t, []string{"u1"}, p.Online(ctx))
	assert.False(t, p.Disconnect(ctx, "u1"))
	assert.True(t, p.IsOnline(ctx, "u1"))
	assert.True(t, p.Disconnect(ctx, "u1"))
	assert.False(t, p.IsOnline(ctx, "u1"))
	assert.Empty(t, p.Online(ctx))
}

func TestLocalPresenceIgnoresUnknownDisconnect(t *testing.T) {
	p := NewLocalPresence()
	assert.False(t, p.Disconnect(context.Background(), "ghost"))
}
