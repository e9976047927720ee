package feed

import (
	"context"
	"log"
	"sync"
)

const subscriberBuffer = 64

// MemoryHub is the in-process Hub used when Redis is not configured. Changes
// go through the same CloudEvent encoding as the Redis hub.
type MemoryHub struct {
	source string

	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	userID string
	ch     chan Change
}

func NewMemoryHub(source string) *MemoryHub {
	return &MemoryHub{source: source, subs: map[*memorySub]struct{}{}}
}

func (h *MemoryHub) Source() string { return h.source }

func (h *MemoryHub) Publish(_ context.Context, change Change) error {
	payload, err := Encode(stamp(change, h.source))
	if err != nil {
		return err
	}
	decoded, err := Decode(payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.userID != "" && sub.userID != decoded.UserID {
			continue
		}
		select {
		case sub.ch <- decoded:
		default:
			log.Printf("feed: dropping %s.%s for slow subscriber", decoded.Collection, decoded.Op)
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	sub := &memorySub{userID: userID, ch: make(chan Change, subscriberBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, context.Canceled
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
			h.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return &Subscription{C: sub.ch, cancel: func() {
		stop()
		cancel()
	}}, nil
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	return nil
}
