package channel

import (
	"sync"
	"sync/atomic"
)

// RegistrationEvent is emitted after every create or update attempt that
// reaches a decision.
type RegistrationEvent struct {
	ChannelID string
	Success   bool
	IsCreate  bool
}

const subscriberBuffer = 16

// Broadcaster fans registration events out to subscribers. Slow subscribers
// miss events rather than block the engine.
type Broadcaster struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan RegistrationEvent
	dropped atomic.Int64
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan RegistrationEvent)}
}

// Subscribe returns a channel of events and a function that ends the subscription.
func (b *Broadcaster) Subscribe() (<-chan RegistrationEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan RegistrationEvent, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room for it.
func (b *Broadcaster) Publish(ev RegistrationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
