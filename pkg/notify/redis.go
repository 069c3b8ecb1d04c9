package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "examshield:room:"

// envelope is the wire format for cross-node room broadcasts. Origin
// lets each node skip its own publications.
type envelope struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Event  Event  `json:"event"`
}

// RedisHub wraps a local hub and mirrors room broadcasts through Redis
// pub/sub so that proctors connected to other nodes see the same
// alerts. Direct per-connection delivery stays node-local: a connection
// lives on exactly one node.
type RedisHub struct {
	local  *MemoryHub
	client *redis.Client
	nodeID string
	cancel context.CancelFunc
}

// NewRedisHub starts the cross-node bridge. It subscribes to all room
// channels and re-emits foreign publications into the local hub.
func NewRedisHub(client *redis.Client, nodeID string, local *MemoryHub) (*RedisHub, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &RedisHub{local: local, client: client, nodeID: nodeID, cancel: cancel}

	sub := client.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("notify: redis subscribe: %w", err)
	}
	go h.relay(ctx, sub)
	return h, nil
}

func (h *RedisHub) relay(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("[notify] dropping malformed relay payload: %v", err)
				continue
			}
			if env.Origin == h.nodeID {
				continue
			}
			room := env.Room
			if room == "" {
				room = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			}
			_ = h.local.EmitToRoom(ctx, room, env.Event)
		}
	}
}

// Close stops the relay goroutine.
func (h *RedisHub) Close() { h.cancel() }

// EmitToConn implements Hub; connections are node-local.
func (h *RedisHub) EmitToConn(ctx context.Context, connID string, evt Event) error {
	return h.local.EmitToConn(ctx, connID, evt)
}

// EmitToRoom implements Hub: local delivery first, then the cross-node
// publish. A Redis failure degrades to single-node delivery rather than
// failing the pipeline.
func (h *RedisHub) EmitToRoom(ctx context.Context, room string, evt Event) error {
	if err := h.local.EmitToRoom(ctx, room, evt); err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{Origin: h.nodeID, Room: room, Event: evt})
	if err != nil {
		return fmt.Errorf("notify: encode envelope: %w", err)
	}
	if err := h.client.Publish(ctx, roomChannelPrefix+room, payload).Err(); err != nil {
		log.Printf("[notify] redis publish failed, delivered locally only: %v", err)
	}
	return nil
}

// JoinRoom implements Hub.
func (h *RedisHub) JoinRoom(connID, room string) { h.local.JoinRoom(connID, room) }

// LeaveRoom implements Hub.
func (h *RedisHub) LeaveRoom(connID, room string) { h.local.LeaveRoom(connID, room) }
