package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"devconnect/identity"
	"devconnect/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256

	userRoomPrefix = "user:"
)

var (
	errClientGone   = errors.New("client disconnected")
	errRoomNotOwned = errors.New("cannot join another user's room")
	errUnknownRoom  = errors.New("unknown room")
)

var roomPrefixes = []string{userRoomPrefix, "post:", "group:", "poll:"}

type Client struct {
	id      string
	conn    *websocket.Conn
	ident   identity.Identity
	send    chan []byte
	manager *Manager

	// rooms and removed are guarded by manager.mu.
	rooms   map[string]struct{}
	removed bool

	closeOnce sync.Once
}

func (c *Client) UserID() string { return c.ident.Canonical }

func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func (c *Client) canJoin(room string) error {
	if strings.HasPrefix(room, userRoomPrefix) {
		if !c.ident.Has(strings.TrimPrefix(room, userRoomPrefix)) {
			return errRoomNotOwned
		}
		return nil
	}
	for _, p := range roomPrefixes {
		if strings.HasPrefix(room, p) && len(room) > len(p) {
			return nil
		}
	}
	return errUnknownRoom
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS authenticates the token query parameter, upgrades the connection and registers the client.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	userID, err := m.auth(token)
	if err != nil {
		logger.Debug("websocket auth rejected", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	ident := m.identities.Resolve(ctx, userID)
	cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		ident:   ident,
		send:    make(chan []byte, sendBuffer),
		manager: m,
		rooms:   make(map[string]struct{}),
	}
	select {
	case m.register <- client:
	case <-m.done:
		_ = conn.Close()
		return
	}

	client.reply(EventConnected, map[string]interface{}{
		"userId":   ident.Canonical,
		"ids":      ident.All(),
		"clientId": client.id,
		"time":     time.Now().Unix(),
	})

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", zap.String("userId", c.ident.Canonical), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.replyError("malformed message")
			continue
		}
		c.handle(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type roomRequest struct {
	Room string `json:"room"`
}

// relayRequest carries typing and stream signaling frames addressed to one user.
type relayRequest struct {
	To string `json:"to"`
}

func (c *Client) handle(env Envelope) {
	switch env.Type {
	case "join":
		var req roomRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.Room == "" {
			c.replyError("room required")
			return
		}
		if err := c.manager.Join(c, req.Room); err != nil {
			c.replyError(err.Error())
			return
		}
		c.reply(EventJoined, req)

	case "leave":
		var req roomRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.Room == "" {
			c.replyError("room required")
			return
		}
		c.manager.Leave(c, req.Room)
		c.reply(EventLeft, req)

	case "get_online_users":
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		online := c.manager.OnlineUsers(ctx)
		cancel()
		c.reply(EventInitialOnlineUsers, map[string]interface{}{"userIds": online})

	case "ping_heartbeat":
		c.reply(EventPongHeartbeat, map[string]interface{}{"time": time.Now().Unix()})

	case "typing_start", "typing_end", "stream_offer", "stream_answer", "stream_ice":
		c.relay(env)

	default:
		c.replyError(fmt.Sprintf("unknown event %q", env.Type))
	}
}

// relay forwards the frame to the addressee's personal room with the sender stamped in.
func (c *Client) relay(env Envelope) {
	var fields map[string]interface{}
	if err := json.Unmarshal(env.Payload, &fields); err != nil {
		c.replyError("payload must be an object")
		return
	}
	var req relayRequest
	_ = json.Unmarshal(env.Payload, &req)
	if req.To == "" {
		c.replyError("recipient required")
		return
	}
	fields["from"] = c.ident.Canonical
	fields["timestamp"] = time.Now().Unix()
	c.manager.Emit(env.Type, fields, identity.UserRoom(req.To))
}

func (c *Client) reply(event string, payload interface{}) {
	data, err := encode(event, payload)
	if err != nil {
		logger.Error("marshal websocket reply", zap.String("event", event), zap.Error(err))
		return
	}
	c.manager.mu.RLock()
	ok := c.removed || c.trySend(data)
	c.manager.mu.RUnlock()
	if !ok {
		c.close()
	}
}

func (c *Client) replyError(msg string) {
	c.reply(EventError, map[string]string{"message": msg})
}
