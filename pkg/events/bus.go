// Package events implements the hub's in-process publish/subscribe broker.
//
// Every cross-component notification in the hub — a task moving through
// its lifecycle, an agent going idle, an endpoint's health flipping —
// flows through this bus instead of direct calls between singletons.
// Delivery is best-effort: a slow subscriber may drop events, but per
// §5 ("Backpressure") the originating state is already durable before
// the publish happens, so a dropped event only costs a wakeup, not
// correctness. Subscribers that need certainty re-poll their owning
// component instead of trusting the bus alone.
package events

import (
	"log/slog"
	"sync"
)

// subscriberBuffer bounds how many undelivered events a single
// subscriber channel holds before new publishes to it are dropped.
const subscriberBuffer = 64

// Envelope is the value delivered to subscribers.
type Envelope struct {
	Topic string
	Data  any
}

type subscriber struct {
	id int64
	ch chan Envelope
}

// Bus is a topic-keyed publish/subscribe broker. The zero value is not
// usable; construct with NewBus.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]*subscriber
	nextID    int64
	dropCount map[string]int64
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:      make(map[string][]*subscriber),
		dropCount: make(map[string]int64),
	}
}

// Subscribe registers interest in topic and returns a receive channel
// plus an unsubscribe function. Callers must call unsubscribe on
// teardown — leaked subscriptions keep a channel (and its goroutine, if
// any) alive forever.
func (b *Bus) Subscribe(topic string) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan Envelope, subscriberBuffer)}
	b.subs[topic] = append(b.subs[topic], sub)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}
	return sub.ch, unsubscribe
}

// Publish delivers data to every current subscriber of topic. A
// subscriber whose buffer is full has the event dropped for it rather
// than blocking the publisher — publishers must never stall on a slow
// reader (§5: "No component blocks while holding its own serializing
// lock").
func (b *Bus) Publish(topic string, data any) {
	b.mu.RLock()
	list := b.subs[topic]
	// copy the slice header under the lock, send outside it
	subs := make([]*subscriber, len(list))
	copy(subs, list)
	b.mu.RUnlock()

	env := Envelope{Topic: topic, Data: data}
	for _, s := range subs {
		select {
		case s.ch <- env:
		default:
			b.mu.Lock()
			b.dropCount[topic]++
			n := b.dropCount[topic]
			b.mu.Unlock()
			slog.Warn("events: dropped publish, subscriber buffer full", "topic", topic, "total_dropped", n)
		}
	}
}

// DroppedCount returns the number of events dropped for topic since
// startup, for dashboard/telemetry use.
func (b *Bus) DroppedCount(topic string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropCount[topic]
}

// SubscriberCount returns the number of active subscribers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
