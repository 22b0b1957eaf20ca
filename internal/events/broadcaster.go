// Package events multicasts scheduler events to WebSocket sessions and
// internal listeners. Publishing never blocks: a subscriber that falls
// behind its backlog loses events rather than stalling the loop.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
)

// DefaultBacklog is the per-subscriber buffered window.
const DefaultBacklog = 64

// Broadcaster fans events out to subscribers, per-subscriber FIFO.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan agent.Event
	nextID  int
	backlog int
	dropped uint64
	closed  bool
	log     *zap.Logger
}

// NewBroadcaster builds a broadcaster with the given per-subscriber
// backlog; zero or negative uses DefaultBacklog.
func NewBroadcaster(backlog int, log *zap.Logger) *Broadcaster {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Broadcaster{
		subs:    make(map[int]chan agent.Event),
		backlog: backlog,
		log:     log,
	}
}

// Subscribe registers a listener. The returned cancel is idempotent and
// safe to call after Close.
func (b *Broadcaster) Subscribe() (<-chan agent.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan agent.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan agent.Event, b.backlog)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev agent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			b.log.Debug("event dropped for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("event_type", string(ev.Type)),
			)
		}
	}
}

// Dropped reports how many events were lost to slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// SubscriberCount reports current subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drains the registry and closes every subscriber channel.
// Publishing after Close is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
