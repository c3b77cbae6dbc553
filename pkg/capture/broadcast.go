package capture

import (
	"sync"

	"github.com/sw33tLie/beaconscope/pkg/event"
)

// NotificationEventsCaptured is the only push message type.
const NotificationEventsCaptured = "eventsCaptured"

// Notification is pushed to subscribers after events are stored.
type Notification struct {
	Type   string                `json:"type"`
	TabID  int                   `json:"tabId"`
	Events []event.CapturedEvent `json:"events"`
}

const subscriberBuffer = 64

// broadcaster fans notifications out without ever blocking the publisher.
// A subscriber that falls behind misses notifications; the store remains
// the source of truth.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Notification]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Notification]struct{})}
}

func (b *broadcaster) subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// publish reports how many subscribers missed n.
func (b *broadcaster) publish(n Notification) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
