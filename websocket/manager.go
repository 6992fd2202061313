package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"devconnect/identity"
	"devconnect/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventConnected          = "connected"
	EventError              = "error"
	EventUserStatus         = "user_status"
	EventInitialOnlineUsers = "initial_online_users"
	EventPongHeartbeat      = "pong_heartbeat"
	EventJoined             = "joined"
	EventLeft               = "left"
)

// Envelope is the wire format of every socket frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type IdentityResolver interface {
	Resolve(ctx context.Context, id string) identity.Identity
}

type PresenceStore interface {
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

// Authenticator maps a bearer token to a user id.
type Authenticator func(token string) (string, error)

type Manager struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	nodeID     string
	auth       Authenticator
	identities IdentityResolver
	store      PresenceStore
	presence   PresenceTracker
	bridge     *RedisBridge
}

type Option func(*Manager)

// WithBridge fans every emit out to other nodes through redis pub/sub.
func WithBridge(b *RedisBridge) Option {
	return func(m *Manager) { m.bridge = b }
}

// WithPresenceTracker replaces the in-process online set.
func WithPresenceTracker(p PresenceTracker) Option {
	return func(m *Manager) { m.presence = p }
}

func WithPresenceStore(s PresenceStore) Option {
	return func(m *Manager) { m.store = s }
}

func NewManager(auth Authenticator, identities IdentityResolver, opts ...Option) *Manager {
	m := &Manager{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		nodeID:     uuid.NewString(),
		auth:       auth,
		identities: identities,
		presence:   NewLocalPresence(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) NodeID() string { return m.nodeID }

// Start runs the registration loop until ctx is cancelled, then disconnects every client.
func (m *Manager) Start(ctx context.Context) {
	if m.bridge != nil {
		go m.bridge.Run(ctx, m.nodeID, m.deliverRemote)
	}
	for {
		select {
		case client := <-m.register:
			m.add(client)
		case client := <-m.unregister:
			m.remove(client)
		case <-ctx.Done():
			close(m.done)
			m.closeAll()
			return
		}
	}
}

func (m *Manager) add(c *Client) {
	m.mu.Lock()
	m.clients[c] = struct{}{}
	for _, room := range c.ident.Rooms() {
		m.joinLocked(c, room)
	}
	total := len(m.clients)
	m.mu.Unlock()

	userID := c.ident.Canonical
	logger.Info("websocket client registered", zap.String("userId", userID), zap.Int("clients", total))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if m.presence.Connect(ctx, userID) {
		m.setPresence(userID, true)
	}
}

func (m *Manager) remove(c *Client) {
	m.mu.Lock()
	if _, ok := m.clients[c]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, c)
	for room := range c.rooms {
		m.leaveLocked(c, room)
	}
	c.removed = true
	close(c.send)
	total := len(m.clients)
	m.mu.Unlock()

	userID := c.ident.Canonical
	logger.Info("websocket client unregistered", zap.String("userId", userID), zap.Int("clients", total))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if m.presence.Disconnect(ctx, userID) {
		m.setPresence(userID, false)
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// setPresence persists the online flag off the registration loop and tells everyone.
func (m *Manager) setPresence(userID string, online bool) {
	status := "offline"
	if online {
		status = "online"
	}
	now := time.Now().UTC()
	if m.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.store.SetOnline(ctx, userID, online, now); err != nil {
				logger.Warn("persist presence failed", zap.String("userId", userID), zap.Error(err))
			}
		}()
	}
	m.Broadcast(EventUserStatus, map[string]interface{}{
		"userId":   userID,
		"status":   status,
		"lastSeen": now,
	})
}

func (m *Manager) joinLocked(c *Client, room string) {
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		m.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (m *Manager) leaveLocked(c *Client, room string) {
	if members, ok := m.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Join adds c to room. Personal rooms are restricted to the client's own ids.
func (m *Manager) Join(c *Client, room string) error {
	if err := c.canJoin(room); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.removed {
		return errClientGone
	}
	m.joinLocked(c, room)
	return nil
}

func (m *Manager) Leave(c *Client, room string) {
	if strings.HasPrefix(room, userRoomPrefix) {
		return
	}
	m.mu.Lock()
	m.leaveLocked(c, room)
	m.mu.Unlock()
}

func encode(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}

// Emit delivers event to every client in any of rooms, once per client, on this node and,
// with a bridge, on every other node.
func (m *Manager) Emit(event string, payload interface{}, rooms ...string) {
	if len(rooms) == 0 {
		return
	}
	data, err := encode(event, payload)
	if err != nil {
		logger.Error("marshal websocket event", zap.String("event", event), zap.Error(err))
		return
	}
	m.deliver(rooms, data)
	m.publish(bridgeMessage{Rooms: rooms, Data: data})
}

// Broadcast delivers event to every connected client.
func (m *Manager) Broadcast(event string, payload interface{}) {
	data, err := encode(event, payload)
	if err != nil {
		logger.Error("marshal websocket event", zap.String("event", event), zap.Error(err))
		return
	}
	m.deliverAll(data)
	m.publish(bridgeMessage{Broadcast: true, Data: data})
}

func (m *Manager) publish(msg bridgeMessage) {
	if m.bridge == nil {
		return
	}
	msg.Node = m.nodeID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.bridge.Publish(ctx, msg); err != nil {
			logger.Warn("bridge publish failed", zap.Error(err))
		}
	}()
}

func (m *Manager) deliverRemote(msg bridgeMessage) {
	if msg.Broadcast {
		m.deliverAll(msg.Data)
		return
	}
	m.deliver(msg.Rooms, msg.Data)
}

func (m *Manager) deliver(rooms []string, data []byte) {
	m.mu.RLock()
	seen := make(map[*Client]struct{})
	var slow []*Client
	for _, room := range rooms {
		for c := range m.rooms[room] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			if !c.trySend(data) {
				slow = append(slow, c)
			}
		}
	}
	m.mu.RUnlock()
	m.dropSlow(slow)
}

func (m *Manager) deliverAll(data []byte) {
	m.mu.RLock()
	var slow []*Client
	for c := range m.clients {
		if !c.trySend(data) {
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()
	m.dropSlow(slow)
}

func (m *Manager) dropSlow(slow []*Client) {
	for _, c := range slow {
		logger.Warn("websocket send queue full, dropping client", zap.String("userId", c.ident.Canonical))
		c.close()
	}
}

// OnlineUsers lists the canonical ids with at least one live connection.
func (m *Manager) OnlineUsers(ctx context.Context) []string {
	return m.presence.Online(ctx)
}

func (m *Manager) IsOnline(ctx context.Context, userID string) bool {
	return m.presence.IsOnline(ctx, userID)
}

func (m *Manager) ConnectedClients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// RoomSize reports how many local clients are in room.
func (m *Manager) RoomSize(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room])
}
