// Package event implements an event bus for job lifecycle changes.
// zero or more subscribers register topics to be notified of, a publisher
// writes a topic event to the bus, which broadcasts to all subscribers of
// that topic. Delivery is best-effort and at-most-once per subscription:
// the job store remains authoritative, so a subscriber that misses an event
// reconciles with a direct read
package event

import (
	"context"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
)

var log = golog.Logger("event")

// SubscriberBufferSize is the per-subscription channel buffer. A subscriber
// that falls this many events behind starts losing them: events are dropped
// rather than buffered indefinitely
var SubscriberBufferSize = 64

// Topic is the set of all topics emitted by the bus. Use the topic type to
// distinguish event names. Event emitters should declare Topics as constants
// and document the expected payload type
type Topic string

// Event is a topic & data payload stamped with the server time it was
// published
type Event struct {
	Topic     Topic
	Timestamp time.Time
	Payload   interface{}
}

// Publisher is an interface that can only publish an event
type Publisher interface {
	Publish(ctx context.Context, t Topic, payload interface{})
}

// NilPublisher replaces a nil value, does nothing
type NilPublisher struct{}

// Publish does nothing with the event
func (n *NilPublisher) Publish(ctx context.Context, t Topic, payload interface{}) {}

// Bus is a central coordination point for event publication and
// subscription. Events published for a single job arrive in publication
// order on every subscription that receives them; no ordering holds across
// different jobs
type Bus interface {
	// Publish an event to the bus
	Publish(ctx context.Context, t Topic, payload interface{})
	// Subscribe to one or more topics, returning a channel of matching
	// events
	Subscribe(topics ...Topic) <-chan Event
	// Unsubscribe cleans up a channel that no longer needs events
	Unsubscribe(<-chan Event)
	// NumSubscribers returns the number of subscriptions on the bus
	NumSubscribers() int
}

type subscription struct {
	ch     chan Event
	topics map[Topic]bool
}

type bus struct {
	ctx context.Context

	lk   sync.RWMutex
	subs []*subscription
}

// assert bus is a Bus at compile time
var _ Bus = (*bus)(nil)

// NewBus creates a new event bus. Buses should be instantiated once per
// process. When the passed in context is cancelled the bus stops emitting
// events and closes all subscribed channels
func NewBus(ctx context.Context) Bus {
	b := &bus{
		ctx:  ctx,
		subs: []*subscription{},
	}

	go func(b *bus) {
		<-b.ctx.Done()
		log.Debugf("close bus")
		b.lk.Lock()
		defer b.lk.Unlock()
		for _, sub := range b.subs {
			close(sub.ch)
		}
		b.subs = nil
	}(b)

	return b
}

// Publish sends an event to the bus. Delivery to each subscription is
// non-blocking: a full subscriber buffer drops the event
func (b *bus) Publish(ctx context.Context, topic Topic, payload interface{}) {
	b.lk.RLock()
	defer b.lk.RUnlock()
	log.Debugf("Publish: %s", topic)

	if b.ctx.Err() != nil {
		return
	}

	e := Event{
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	for _, sub := range b.subs {
		if !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			log.Debugf("dropping %s event for slow subscriber", topic)
		}
	}
}

// Subscribe requests events for the given topics, returning a buffered
// channel of those events
func (b *bus) Subscribe(topics ...Topic) <-chan Event {
	b.lk.Lock()
	defer b.lk.Unlock()
	log.Debugf("Subscribe: %v", topics)

	sub := &subscription{
		ch:     make(chan Event, SubscriberBufferSize),
		topics: map[Topic]bool{},
	}
	for _, t := range topics {
		sub.topics[t] = true
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription from the bus & closes its channel
func (b *bus) Unsubscribe(unsub <-chan Event) {
	b.lk.Lock()
	defer b.lk.Unlock()

	for i, sub := range b.subs {
		if sub.ch == unsub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// NumSubscribers returns the number of subscriptions on the bus
func (b *bus) NumSubscribers() int {
	b.lk.RLock()
	defer b.lk.RUnlock()
	return len(b.subs)
}
