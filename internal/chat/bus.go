package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "chat:room:"

// RedisBus relays room events through Redis pub/sub so that sessions of the
// same room connected to different server instances see each other.
// Every instance publishes to chat:room:<id> and feeds what it receives on
// chat:room:* into its local registry.
type RedisBus struct {
	client   *redis.Client
	registry *Registry
	log      *slog.Logger
}

func NewRedisBus(client *redis.Client, registry *Registry, log *slog.Logger) *RedisBus {
	return &RedisBus{client: client, registry: registry, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, roomID RoomID, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.client.Publish(ctx, roomChannelPrefix+string(roomID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to every room channel and broadcasts locally until ctx is
// cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before relaying.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.log.Info("Relaying room events from Redis", "pattern", roomChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(msg)
		}
	}
}

func (b *RedisBus) relay(msg *redis.Message) {
	roomID := RoomID(strings.TrimPrefix(msg.Channel, roomChannelPrefix))

	var evt Event
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		b.log.Error("Dropping undecodable room event", "room_id", roomID, "error", err)
		return
	}
	if _, err := b.registry.Broadcast(roomID, evt, nil); err != nil {
		b.log.Debug("Relay skipped", "room_id", roomID, "error", err)
	}
}
