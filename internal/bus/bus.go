package bus

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 64

// Publisher is implemented by the in-process bus and by the redis relay
type Publisher interface {
	Publish(ctx context.Context, topic Topic, ev Event)
}

// Bus is an in-process topic-keyed publish/subscribe hub. Delivery is
// at-least-once to subscribers present at publish time; there is no replay.
type Bus struct {
	mu     sync.RWMutex
	topics map[Topic]map[*Subscription]struct{}
	buffer int
	log    *slog.Logger
}

// Subscription is one listener's private event stream
type Subscription struct {
	topic   Topic
	ch      chan Event
	bus     *Bus
	dropped atomic.Bool
	closed  bool // guarded by bus.mu
}

// New creates a bus. buffer <= 0 selects DefaultBuffer.
func New(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[Topic]map[*Subscription]struct{}),
		buffer: buffer,
		log:    logger,
	}
}

// Subscribe registers a new listener on topic
func (b *Bus) Subscribe(topic Topic) *Subscription {
	s := &Subscription{
		topic: topic,
		ch:    make(chan Event, b.buffer),
		bus:   b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
	return s
}

// Publish implements Publisher for local-only deployments
func (b *Bus) Publish(_ context.Context, topic Topic, ev Event) {
	b.Deliver(topic, ev)
}

// Deliver hands ev to every current subscriber of topic and returns how many
// received it. Subscribers whose buffer is full are dropped.
func (b *Bus) Deliver(topic Topic, ev Event) int {
	ev.Topic = topic
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	var slow []*Subscription
	delivered := 0

	b.mu.RLock()
	for s := range b.topics[topic] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			slow = append(slow, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range slow {
		b.log.Warn("dropping slow subscriber", "topic", string(topic))
		s.dropped.Store(true)
		b.remove(s)
	}
	return delivered
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)

	if subs, ok := b.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// ActiveTopics lists topics with at least one subscriber whose name starts
// with prefix, sorted.
func (b *Bus) ActiveTopics(prefix string) []Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]Topic, 0, len(b.topics))
	for t := range b.topics {
		if strings.HasPrefix(string(t), prefix) {
			topics = append(topics, t)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// SubscribedUsers returns the ids of users holding a user-topic subscription
func (b *Bus) SubscribedUsers() []string {
	topics := b.ActiveTopics(userPrefix)
	users := make([]string, 0, len(topics))
	for _, t := range topics {
		if id, ok := t.UserID(); ok {
			users = append(users, id)
		}
	}
	return users
}

// C returns the event stream. It is closed on Close or when the subscriber is dropped.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Topic() Topic { return s.topic }

// Dropped reports whether the bus evicted this subscriber for being slow.
// A dropped subscriber must resubscribe and reload history.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}
