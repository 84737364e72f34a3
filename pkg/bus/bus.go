// Package bus relays raw inbound frames from the connection to any number of
// in-process consumers.
package bus

import (
	"sync"
)

// Handler receives one published frame. A handler must not call Publish on
// the bus that is delivering to it.
type Handler func(frame string)

// Bus is a synchronous publish/subscribe relay. Frames are delivered to every
// current subscriber, in subscription order, before Publish returns. A new
// subscriber only sees frames published after it subscribed.
//
// A Bus is created once per session and handed to its publisher and
// subscribers explicitly.
type Bus struct {
	// publishMu serializes Publish so concurrent publishers cannot interleave
	// deliveries.
	publishMu sync.Mutex

	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64
	closed bool
}

// Subscription is a registered handler.
type Subscription struct {
	id      uint64
	handler Handler
	bus     *Bus
	once    sync.Once
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler and returns its subscription. Subscribing to a
// closed bus returns a subscription that never receives frames.
func (b *Bus) Subscribe(handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, handler: handler, bus: b}
	if b.closed || handler == nil {
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes the subscription. It is safe to call more than once and
// from inside a handler.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			// Copy so that an in-flight Publish keeps its snapshot intact
			next := make([]*Subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers frame to all current subscribers and returns how many
// handlers were invoked.
func (b *Bus) Publish(frame string) int {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(frame)
	}
	return len(subs)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}
