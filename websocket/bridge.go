package websocket

import (
	"context"
	"encoding/json"

	"devconnect/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "devconnect:events"

type bridgeMessage struct {
	Node      string          `json:"node"`
	Rooms     []string        `json:"rooms,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// RedisBridge relays emits between nodes over a pub/sub channel.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

func NewRedisBridge(client *redis.Client, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, channel: channel}
}

func (b *RedisBridge) Publish(ctx context.Context, msg bridgeMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, raw).Err()
}

// Run forwards messages published by other nodes to deliver until ctx is done.
func (b *RedisBridge) Run(ctx context.Context, nodeID string, deliver func(bridgeMessage)) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		logger.Error("bridge subscribe failed", zap.String("channel", b.channel), zap.Error(err))
		return
	}
	logger.Info("bridge subscribed", zap.String("channel", b.channel), zap.String("node", nodeID))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg bridgeMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logger.Warn("bridge message dropped", zap.Error(err))
				continue
			}
			if msg.Node == nodeID {
				continue
			}
			deliver(msg)
		}
	}
}
