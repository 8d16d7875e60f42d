package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-redis/redis/v8"
)

// eventChannelPrefix namespaces broadcast topics on the redis pub/sub bus.
// The websocket handler subscribes with the same prefix.
const eventChannelPrefix = "arenapay:events:"

// Event is the payload pushed to listeners when ledger or match state
// changes. Best-effort only; pollers use the status endpoints instead.
type Event struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Data      any    `json:"data,omitempty"`
}

// Broadcaster fans state changes out to currently-subscribed listeners.
// Publish must never fail the enclosing operation.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event Event)
}

// RedisBroadcaster publishes events on redis pub/sub, one channel per topic
// (tx_ref, room id or match id). A nil client degrades to log-only.
type RedisBroadcaster struct {
	redis *redis.Client
}

func NewRedisBroadcaster(redisClient *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{redis: redisClient}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, event Event) {
	if b.redis == nil {
		log.Printf("[BROADCAST] %s %s (redis unavailable, dropped)", topic, event.Type)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[BROADCAST] Failed to marshal event for %s: %v", topic, err)
		return
	}

	if err := b.redis.Publish(ctx, eventChannelPrefix+topic, data).Err(); err != nil {
		log.Printf("[BROADCAST] Publish failed for %s: %v", topic, err)
	}
}

// EventChannel returns the redis channel name for a topic.
func EventChannel(topic string) string {
	return eventChannelPrefix + topic
}
