package realtimeclient

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
	"devconnect/models"
	server "devconnect/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBackoff(t *testing.T) {
	floor, ceiling := 500*time.Millisecond, 30*time.Second
	assert.Equal(t, 500*time.Millisecond, backoff(0, floor, ceiling))
	assert.Equal(t, time.Second, backoff(1, floor, ceiling))
	assert.Equal(t, 16*time.Second, backoff(5, floor, ceiling))
	assert.Equal(t, ceiling, backoff(6, floor, ceiling))
	assert.Equal(t, ceiling, backoff(100, floor, ceiling))
}

func TestPresenceNotifiesOnChange(t *testing.T) {
	p := NewPresence()
	var seen [][]string
	unsubscribe := p.Subscribe(func(online []string) { seen = append(seen, online) })

	p.Replace([]string{"b", "a"})
	p.Set("c", true)
	p.Set("c", true)
	p.Set("a", false)
	unsubscribe()
	p.Set("d", true)

	assert.Equal(t, [][]string{{}, {"a", "b"}, {"a", "b", "c"}, {"b", "c"}}, seen)
	assert.True(t, p.IsOnline("d"))
	assert.False(t, p.IsOnline("a"))
}

type stubMarker struct {
	err   error
	calls []string
}

func (s *stubMarker) MarkNotificationRead(_ context.Context, id string) error {
	s.calls = append(s.calls, id)
	return s.err
}

func notification(read bool) models.Notification {
	return models.Notification{ID: primitive.NewObjectID(), Type: models.NotificationLike, Read: read}
}

func TestInboxApplyIgnoresDuplicates(t *testing.T) {
	inbox := NewInbox(&stubMarker{})
	old := notification(true)
	inbox.Replace([]models.Notification{old}, 0)

	fresh := notification(false)
	assert.True(t, inbox.Apply(fresh))
	assert.False(t, inbox.Apply(fresh))

	items := inbox.Items()
	require.Len(t, items, 2)
	assert.Equal(t, fresh.ID, items[0].ID)
	assert.EqualValues(t, 1, inbox.Unread())
}

func TestInboxMarkReadIsOptimistic(t *testing.T) {
	marker := &stubMarker{}
	inbox := NewInbox(marker)
	n := notification(false)
	inbox.Replace([]models.Notification{n}, 1)

	var unreadSeen []int64
	inbox.Subscribe(func(_ []models.Notification, unread int64) { unreadSeen = append(unreadSeen, unread) })

	require.NoError(t, inbox.MarkRead(context.Background(), n.ID.Hex()))
	assert.EqualValues(t, 0, inbox.Unread())
	assert.True(t, inbox.Items()[0].Read)
	assert.Equal(t, []string{n.ID.Hex()}, marker.calls)

	// already read: no second server call
	require.NoError(t, inbox.MarkRead(context.Background(), n.ID.Hex()))
	assert.Len(t, marker.calls, 1)
	assert.Equal(t, []int64{0}, unreadSeen)

	assert.ErrorIs(t, inbox.MarkRead(context.Background(), primitive.NewObjectID().Hex()), ErrUnknownNotification)
}

func TestInboxMarkReadRollsBack(t *testing.T) {
	marker := &stubMarker{err: errors.New("offline")}
	inbox := NewInbox(marker)
	n := notification(false)
	inbox.Replace([]models.Notification{n}, 1)

	var unreadSeen []int64
	inbox.Subscribe(func(_ []models.Notification, unread int64) { unreadSeen = append(unreadSeen, unread) })

	err := inbox.MarkRead(context.Background(), n.ID.Hex())
	require.Error(t, err)
	assert.EqualValues(t, 1, inbox.Unread())
	assert.False(t, inbox.Items()[0].Read)
	assert.Nil(t, inbox.Items()[0].ReadAt)
	assert.Equal(t, []int64{0, 1}, unreadSeen)
}

func TestFetcher(t *testing.T) {
	id := primitive.NewObjectID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Authentication required"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/notifications":
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"notifications": []models.Notification{{ID: id, Title: "liked"}},
				"total":         1,
				"unreadCount":   1,
			})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/notifications/"+id.Hex()+"/read":
			_, _ = w.Write([]byte(`{}`))
		case r.URL.Path == "/api/conversations":
			_, _ = w.Write([]byte(`{"conversations":[],"degraded":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"notification not found"}`))
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/", "tok", srv.Client())
	inbox := NewInbox(f)
	require.NoError(t, f.SyncInbox(context.Background(), inbox, 20))
	assert.EqualValues(t, 1, inbox.Unread())
	require.NoError(t, inbox.MarkRead(context.Background(), id.Hex()))
	assert.EqualValues(t, 0, inbox.Unread())

	convs, err := f.Conversations(context.Background())
	require.NoError(t, err)
	assert.True(t, convs.Degraded)

	err = f.MarkNotificationRead(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "notification not found", apiErr.Message)

	_, err = NewFetcher(srv.URL, "bad", nil).Notifications(context.Background(), 1, 20)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

// socketServer accepts connections for token "tok" and records the event types it receives.
type socketServer struct {
	*httptest.Server
	frames chan string

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newSocketServer(t *testing.T) *socketServer {
	t.Helper()
	s := &socketServer{frames: make(chan string, 1024)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go func() {
			defer conn.Close()
			for {
				var env server.Envelope
				if err := conn.ReadJSON(&env); err != nil {
					return
				}
				select {
				case s.frames <- env.Type:
				default:
				}
			}
		}()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *socketServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *socketServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *socketServer) dropLatest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conns[len(s.conns)-1].Close()
}

func (s *socketServer) waitFrame(t *testing.T, event string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-s.frames:
			if got == event {
				return
			}
		case <-timeout:
			t.Fatalf("no %s frame received", event)
		}
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) has(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.states {
		if got == s {
			return true
		}
	}
	return false
}

func TestConnectionManagerReconnects(t *testing.T) {
	srv := newSocketServer(t)
	m := NewConnectionManager(Config{
		URL:        srv.url(),
		Token:      "tok",
		Heartbeat:  50 * time.Millisecond,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 40 * time.Millisecond,
	})
	log := &stateLog{}
	m.OnStateChange(log.record)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Connected, m.State())
	srv.waitFrame(t, EventGetOnlineUsers)
	srv.waitFrame(t, EventPingHeartbeat)

	srv.dropLatest()
	require.Eventually(t, func() bool { return srv.connCount() == 2 }, 3*time.Second, 10*time.Millisecond)
	srv.waitFrame(t, EventGetOnlineUsers)
	require.Eventually(t, func() bool { return m.State() == Connected }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, log.has(Reconnecting))

	m.Disconnect()
	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.Send("join", map[string]string{"room": "post:1"}), ErrNotConnected)

	require.NoError(t, m.Reconnect(context.Background()))
	assert.Equal(t, Connected, m.State())
	m.Disconnect()
}

func TestConnectRejectedToken(t *testing.T) {
	srv := newSocketServer(t)
	m := NewConnectionManager(Config{URL: srv.url(), Token: "nope"})

	require.Error(t, m.Connect(context.Background()))
	assert.Equal(t, Disconnected, m.State())
}

type oneIdentity struct{}

func (oneIdentity) Resolve(_ context.Context, id string) identity.Identity {
	return identity.Identity{Canonical: id}
}

func hubAuth(token string) (string, error) {
	if !strings.HasPrefix(token, "tok-") {
		return "", errors.New("bad token")
	}
	return strings.TrimPrefix(token, "tok-"), nil
}

func TestStoresFollowHub(t *testing.T) {
	hub := server.NewManager(hubAuth, oneIdentity{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Start(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer func() {
		srv.Close()
		cancel()
	}()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	m := NewConnectionManager(Config{URL: wsURL, Token: "tok-u1"})
	presence := NewPresence()
	presence.Bind(m)
	inbox := NewInbox(&stubMarker{})
	inbox.Bind(m)
	synced := make(chan struct{})
	var once sync.Once
	m.On(server.EventInitialOnlineUsers, func(json.RawMessage) { once.Do(func() { close(synced) }) })

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	select {
	case <-synced:
	case <-time.After(3 * time.Second):
		t.Fatal("no initial_online_users")
	}
	require.Eventually(t, func() bool { return hub.RoomSize("user:u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	other := NewConnectionManager(Config{URL: wsURL, Token: "tok-u2"})
	require.NoError(t, other.Connect(context.Background()))
	require.Eventually(t, func() bool { return presence.IsOnline("u2") }, 3*time.Second, 10*time.Millisecond)
	other.Disconnect()
	require.Eventually(t, func() bool { return !presence.IsOnline("u2") }, 3*time.Second, 10*time.Millisecond)

	hub.Emit(EventNotification, models.Notification{ID: primitive.NewObjectID(), UserID: "u1", Title: "New follower"}, identity.UserRoom("u1"))
	require.Eventually(t, func() bool { return inbox.Unread() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "New follower", inbox.Items()[0].Title)
}
