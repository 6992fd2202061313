package realtimeclient

import (
	"encoding/json"
	"sort"
	"sync"

	"devconnect/logger"
	server "devconnect/websocket"

	"go.uber.org/zap"
)

// Presence is the local set of online user ids. It is rebuilt from initial_online_users after
// every connect and patched by user_status events in between.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
	subs   map[int]func(online []string)
	nextID int
}

func NewPresence() *Presence {
	return &Presence{
		online: make(map[string]struct{}),
		subs:   make(map[int]func([]string)),
	}
}

// Bind feeds the store from m's socket events.
func (p *Presence) Bind(m *ConnectionManager) {
	m.On(server.EventInitialOnlineUsers, func(payload json.RawMessage) {
		var body struct {
			UserIDs []string `json:"userIds"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			logger.Warn("bad initial_online_users payload", zap.Error(err))
			return
		}
		p.Replace(body.UserIDs)
	})
	m.On(server.EventUserStatus, func(payload json.RawMessage) {
		var body struct {
			UserID string `json:"userId"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(payload, &body); err != nil || body.UserID == "" {
			logger.Warn("bad user_status payload", zap.Error(err))
			return
		}
		p.Set(body.UserID, body.Status == "online")
	})
}

func (p *Presence) Replace(ids []string) {
	p.mu.Lock()
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.online[id] = struct{}{}
	}
	p.mu.Unlock()
	p.publish()
}

// Set marks one user online or offline. Subscribers only hear about actual changes.
func (p *Presence) Set(userID string, online bool) {
	p.mu.Lock()
	_, was := p.online[userID]
	if was == online {
		p.mu.Unlock()
		return
	}
	if online {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
	p.mu.Unlock()
	p.publish()
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the sorted online ids.
func (p *Presence) Online() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Subscribe calls fn with the current set now and after every change.
func (p *Presence) Subscribe(fn func(online []string)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	fn(p.Online())
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *Presence) publish() {
	snapshot := p.Online()
	p.mu.RLock()
	subs := make([]func([]string), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}
