package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Broadcast is the wire payload exchanged over the pub-sub transport. It
// carries no delivery guarantee; subscribers validate the shape and drop
// anything malformed.
type Broadcast struct {
	Channel   string    `json:"channel"`
	SenderID  string    `json:"senderId,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transport fans broadcasts out to every current subscriber of a channel,
// including the sender's own other sessions. Publish is best-effort
// fire-and-forget.
type Transport interface {
	Subscribe(ctx context.Context, channelID string) (Subscription, error)
	Publish(ctx context.Context, channelID string, payload Broadcast) error
}

// Subscription represents an active broadcast stream for one channel. Close
// must be idempotent.
type Subscription interface {
	Events() <-chan Broadcast
	Close()
}

// NewMemoryTransport initialises an in-memory fan-out transport suitable for
// tests and single-process deployments.
func NewMemoryTransport(buffer int) *MemoryTransport {
	if buffer <= 0 {
		buffer = 32
	}
	return &MemoryTransport{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

// MemoryTransport delivers broadcasts within a single process.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	buffer int
}

func (t *MemoryTransport) Subscribe(_ context.Context, channelID string) (Subscription, error) {
	if channelID == "" {
		return nil, errors.New("channel id is required")
	}
	sub := &memorySubscription{
		transport: t,
		channel:   channelID,
		ch:        make(chan Broadcast, t.buffer),
	}
	t.mu.Lock()
	if t.subs[channelID] == nil {
		t.subs[channelID] = make(map[*memorySubscription]struct{})
	}
	t.subs[channelID][sub] = struct{}{}
	t.mu.Unlock()
	return sub, nil
}

func (t *MemoryTransport) Publish(ctx context.Context, channelID string, payload Broadcast) error {
	if channelID == "" {
		return errors.New("channel id is required")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for sub := range t.subs[channelID] {
		select {
		case sub.ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Drop instead of blocking to keep the live path
			// responsive. Consumers are expected to drain promptly.
		}
	}
	return nil
}

type memorySubscription struct {
	once      sync.Once
	transport *MemoryTransport
	channel   string
	ch        chan Broadcast
}

func (s *memorySubscription) Events() <-chan Broadcast {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.transport.mu.Lock()
		if subs := s.transport.subs[s.channel]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.transport.subs, s.channel)
			}
		}
		s.transport.mu.Unlock()
		close(s.ch)
	})
}
