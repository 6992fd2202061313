// Package realtimeclient is the client side of the /ws transport: a connection manager with
// reconnect and heartbeats, plus local presence and inbox stores fed by socket events.
package realtimeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"devconnect/logger"
	server "devconnect/websocket"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeat  = 25 * time.Second
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second

	EventGetOnlineUsers = "get_online_users"
	EventPingHeartbeat  = "ping_heartbeat"
	EventNotification   = "notification"

	writeWait = 10 * time.Second
)

var ErrNotConnected = errors.New("realtime: not connected")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Handler receives the raw payload of one socket event.
type Handler func(payload json.RawMessage)

type Config struct {
	// URL of the socket endpoint, e.g. wss://api.example.com/ws. The token is added as a query parameter.
	URL        string
	Token      string
	Dialer     *websocket.Dialer
	Heartbeat  time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// ConnectionManager owns a single socket for the lifetime of a session. Construct it once and
// share it; stores subscribe to events through On.
type ConnectionManager struct {
	cfg Config

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	handlers  map[string][]Handler
	listeners []func(State)

	writeMu sync.Mutex
}

func NewConnectionManager(cfg Config) *ConnectionManager {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &ConnectionManager{cfg: cfg, handlers: make(map[string][]Handler)}
}

// On registers h for event. Handlers run on the read goroutine and must not block.
func (m *ConnectionManager) On(event string, h Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], h)
	m.mu.Unlock()
}

func (m *ConnectionManager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials once. After a successful dial the manager keeps the connection alive and
// reconnects with backoff until Disconnect. Calling Connect while connected is a no-op.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	session, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.state, m.cancel, m.done = Connecting, cancel, done
	m.mu.Unlock()
	m.notify(Connecting)

	conn, err := m.dial(ctx)
	if err != nil {
		cancel()
		close(done)
		m.mu.Lock()
		owned := m.done == done
		if owned {
			m.state, m.cancel, m.done = Disconnected, nil, nil
		}
		m.mu.Unlock()
		if owned {
			m.notify(Disconnected)
		}
		return err
	}

	if !m.attach(session, conn) {
		// Disconnect ran while dialing
		close(done)
		return context.Canceled
	}
	go m.run(session, conn, done)
	return nil
}

// Disconnect closes the socket and stops reconnecting. It waits for the read loop to exit,
// so it must not be called from a Handler or state listener.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done, m.conn = nil, nil, nil
	if cancel != nil {
		cancel()
	}
	changed := m.state != Disconnected
	m.state = Disconnected
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	if changed {
		m.notify(Disconnected)
	}
}

func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	m.Disconnect()
	return m.Connect(ctx)
}

// Send writes one event frame.
func (m *ConnectionManager) Send(event string, payload interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, event, payload)
}

func (m *ConnectionManager) write(conn *websocket.Conn, event string, payload interface{}) error {
	env := server.Envelope{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

func (m *ConnectionManager) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", m.cfg.Token)
	u.RawQuery = q.Encode()

	conn, resp, err := m.cfg.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.New("realtime: token rejected")
		}
		return nil, err
	}
	return conn, nil
}

// attach publishes conn and asks for the online set. Presence is always resynced from scratch.
func (m *ConnectionManager) attach(session context.Context, conn *websocket.Conn) bool {
	m.mu.Lock()
	if session.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.state = Connected
	m.mu.Unlock()
	m.notify(Connected)

	if err := m.write(conn, EventGetOnlineUsers, nil); err != nil {
		logger.Warn("realtime resync request failed", zap.Error(err))
	}
	return true
}

func (m *ConnectionManager) run(session context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := m.serve(session, conn)
		if session.Err() != nil {
			return
		}
		logger.Warn("realtime connection lost", zap.Error(err))
		if !m.transition(session, Reconnecting) {
			return
		}

		conn = m.redial(session)
		if conn == nil || !m.attach(session, conn) {
			return
		}
	}
}

// serve reads frames and sends heartbeats until the connection fails.
func (m *ConnectionManager) serve(session context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(m.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.write(conn, EventPingHeartbeat, nil); err != nil {
					_ = conn.Close()
					return
				}
			case <-stop:
				return
			case <-session.Done():
				return
			}
		}
	}()

	for {
		var env server.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			_ = conn.Close()
			return err
		}
		m.dispatch(env)
	}
}

func (m *ConnectionManager) dispatch(env server.Envelope) {
	m.mu.Lock()
	hs := append([]Handler(nil), m.handlers[env.Type]...)
	m.mu.Unlock()
	for _, h := range hs {
		h(env.Payload)
	}
}

func (m *ConnectionManager) redial(session context.Context) *websocket.Conn {
	for attempt := 0; ; attempt++ {
		timer := time.NewTimer(backoff(attempt, m.cfg.MinBackoff, m.cfg.MaxBackoff))
		select {
		case <-session.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := m.dial(session)
		if err == nil {
			return conn
		}
		logger.Debug("realtime redial failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

// backoff doubles from floor on every attempt and never exceeds ceiling.
func backoff(attempt int, floor, ceiling time.Duration) time.Duration {
	d := floor
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// transition sets s unless the session has ended. Disconnect cancels the session under the
// same lock, so a stale read loop cannot overwrite Disconnected.
func (m *ConnectionManager) transition(session context.Context, s State) bool {
	m.mu.Lock()
	if session.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.conn = nil
	m.mu.Unlock()
	m.notify(s)
	return true
}

func (m *ConnectionManager) notify(s State) {
	m.mu.Lock()
	ls := append(([]func(State))(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range ls {
		fn(s)
	}
}
