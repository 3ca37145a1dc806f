// Package stream fans newly visible public entries out to live subscribers.
package stream

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const redisChannel = "socialdistro:entries:public"

// Hub delivers payloads to every registered client. With a redis client the
// payload goes through redis pub/sub so that every process sharing the
// redis instance sees it, otherwise it is fanned out in process.
type Hub struct {
	redis   *redis.Client
	logger  *log.Logger
	clients map[*Client]struct{}
	mu      sync.RWMutex
	ready   chan struct{}
}

type Client struct {
	Send chan []byte
}

// NewHub starts the redis subscription, if any, until ctx is cancelled.
func NewHub(ctx context.Context, redisClient *redis.Client, logger *log.Logger) *Hub {
	h := &Hub{
		redis:   redisClient,
		logger:  logger.WithPrefix("stream"),
		clients: map[*Client]struct{}{},
		ready:   make(chan struct{}),
	}

	if redisClient != nil {
		go h.subscribeRedis(ctx)
	} else {
		close(h.ready)
	}
	return h
}

// Ready is closed once the hub can receive published payloads.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Register() *Client {
	client := &Client{Send: make(chan []byte, 64)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
}

// Broadcast publishes payload. Slow clients drop messages instead of
// blocking the publisher.
func (h *Hub) Broadcast(ctx context.Context, payload []byte) {
	if h.redis != nil {
		if err := h.redis.Publish(ctx, redisChannel, payload).Err(); err != nil {
			h.logger.Warn("redis publish failed, delivering locally", "err", err)
			h.fanOut(payload)
		}
		return
	}
	h.fanOut(payload)
}

func (h *Hub) fanOut(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("redis subscribe failed", "err", err)
		close(h.ready)
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.fanOut([]byte(msg.Payload))
		}
	}
}
