package events

import (
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// Broadcaster fans events of type T out to any number of subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
// The zero capacity means [DefaultSubscriberBuffer]. A Broadcaster outlives
// individual capture sessions, so subscriptions made before Start keep
// receiving across Stop/Start cycles.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[uint64]chan T
	nextID  uint64
	cap     int
	dropped uint64
}

// NewBroadcaster returns a Broadcaster whose subscriber channels hold up to
// capacity events. capacity <= 0 selects [DefaultSubscriberBuffer].
func NewBroadcaster[T any](capacity int) *Broadcaster[T] {
	if capacity <= 0 {
		capacity = DefaultSubscriberBuffer
	}
	return &Broadcaster[T]{
		subs: make(map[uint64]chan T),
		cap:  capacity,
	}
}

// Subscribe registers a new subscriber and returns its receive channel plus
// a cancel function. Cancel closes the channel and removes the subscriber.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.cap)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to all current subscribers without blocking. Events to
// subscribers with full buffers are dropped and counted.
func (b *Broadcaster[T]) Publish(ev T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			slog.Warn("event subscriber lagging, dropping event",
				"subscriber", id,
				"dropped_total", b.dropped,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns the total number of events dropped across all subscribers.
func (b *Broadcaster[T]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
