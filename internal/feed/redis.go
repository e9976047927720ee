package feed

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "ignis:feed:"

// RedisHub publishes changes on one Redis channel per user so every API
// instance sharing the Redis server sees every write.
type RedisHub struct {
	client *redis.Client
	prefix string
	source string

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// NewRedisHub uses client without taking ownership of it.
func NewRedisHub(client *redis.Client, source string) *RedisHub {
	return &RedisHub{
		client: client,
		prefix: DefaultChannelPrefix,
		source: source,
		subs:   map[*redis.PubSub]struct{}{},
	}
}

func (h *RedisHub) Source() string { return h.source }

func (h *RedisHub) channel(userID string) string {
	return h.prefix + userID
}

func (h *RedisHub) Publish(ctx context.Context, change Change) error {
	payload, err := Encode(stamp(change, h.source))
	if err != nil {
		return err
	}
	if err := h.client.Publish(ctx, h.channel(change.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("feed closed")
	}
	h.mu.Unlock()

	var pubsub *redis.PubSub
	if userID == "" {
		pubsub = h.client.PSubscribe(ctx, h.prefix+"*")
	} else {
		pubsub = h.client.Subscribe(ctx, h.channel(userID))
	}
	// Wait for the subscription to be confirmed so no publish after this
	// call returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	h.mu.Lock()
	h.subs[pubsub] = struct{}{}
	h.mu.Unlock()

	out := make(chan Change, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.subs, pubsub)
			h.mu.Unlock()
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				change, err := Decode([]byte(msg.Payload))
				if err != nil {
					log.Printf("feed: skip message on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- change:
				default:
					log.Printf("feed: dropping %s.%s for slow subscriber", change.Collection, change.Op)
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel}, nil
}

// Close ends every open subscription. The Redis client stays open.
func (h *RedisHub) Close() error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*redis.PubSub, 0, len(h.subs))
	for pubsub := range h.subs {
		subs = append(subs, pubsub)
	}
	h.subs = map[*redis.PubSub]struct{}{}
	h.mu.Unlock()

	for _, pubsub := range subs {
		_ = pubsub.Close()
	}
	return nil
}
