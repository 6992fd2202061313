package websocket

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"devconnect/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceTracker counts live connections per user. Connect reports the first connection
// and Disconnect the last one.
type PresenceTracker interface {
	Connect(ctx context.Context, userID string) bool
	Disconnect(ctx context.Context, userID string) bool
	Online(ctx context.Context) []string
	IsOnline(ctx context.Context, userID string) bool
}

type LocalPresence struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{conns: make(map[string]int)}
}

func (p *LocalPresence) Connect(_ context.Context, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID]++
	return p.conns[userID] == 1
}

func (p *LocalPresence) Disconnect(_ context.Context, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.conns[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.conns, userID)
		return true
	}
	p.conns[userID] = n - 1
	return false
}

func (p *LocalPresence) Online(_ context.Context) []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.conns))
	for id := range p.conns {
		out = append(out, id)
	}
	p.mu.Unlock()
	sort.Strings(out)
	return out
}

func (p *LocalPresence) IsOnline(_ context.Context, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[userID] > 0
}

// RedisPresence keeps connection counts in a redis hash shared by every node.
type RedisPresence struct {
	client *redis.Client
	key    string
}

func NewRedisPresence(client *redis.Client, key string) *RedisPresence {
	if key == "" {
		key = "devconnect:online"
	}
	return &RedisPresence{client: client, key: key}
}

func (p *RedisPresence) Connect(ctx context.Context, userID string) bool {
	n, err := p.client.HIncrBy(ctx, p.key, userID, 1).Result()
	if err != nil {
		logger.Warn("presence connect failed", zap.String("userId", userID), zap.Error(err))
		return false
	}
	return n == 1
}

func (p *RedisPresence) Disconnect(ctx context.Context, userID string) bool {
	n, err := p.client.HIncrBy(ctx, p.key, userID, -1).Result()
	if err != nil {
		logger.Warn("presence disconnect failed", zap.String("userId", userID), zap.Error(err))
		return false
	}
	if n <= 0 {
		p.client.HDel(ctx, p.key, userID)
		return true
	}
	return false
}

func (p *RedisPresence) Online(ctx context.Context) []string {
	all, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		logger.Warn("presence list failed", zap.Error(err))
		return []string{}
	}
	out := make([]string, 0, len(all))
	for id, raw := range all {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) bool {
	n, err := p.client.HGet(ctx, p.key, userID).Int()
	return err == nil && n > 0
}
