package knowledge

import (
	"sync"

	"github.com/google/uuid"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// DefaultSubscriberQueueSize bounds each subscriber's pending event queue.
const DefaultSubscriberQueueSize = 1024

// Subscription is one registered change-feed consumer. Events arrives on
// Events; when the feed drops the subscriber for falling behind, Events is
// closed and Err returns the reason.
type Subscription struct {
	ID     string
	filter *Filter
	events chan a2a.KnowledgeGraphChangeEvent

	mu     sync.Mutex
	closed bool
	err    error
}

// Events returns the subscription's event channel. The channel is closed
// when the subscription ends.
func (s *Subscription) Events() <-chan a2a.KnowledgeGraphChangeEvent {
	return s.events
}

// Err reports why the subscription ended, or nil for a clean unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}

// ChangeFeed fans confirmed change events out to matching subscribers.
// Delivery never blocks a publisher: a subscriber whose queue is full is
// dropped with a subscription error.
type ChangeFeed struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	queueSize int
}

// NewChangeFeed creates a feed with the given per-subscriber queue bound.
func NewChangeFeed(queueSize int) *ChangeFeed {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueueSize
	}
	return &ChangeFeed{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a subscriber whose filter selects which events it
// receives.
func (f *ChangeFeed) Subscribe(filter *Filter) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		filter: filter,
		events: make(chan a2a.KnowledgeGraphChangeEvent, f.queueSize),
	}
	f.mu.Lock()
	f.subs[sub.ID] = sub
	f.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its event channel.
func (f *ChangeFeed) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	delete(f.subs, sub.ID)
	f.mu.Unlock()
	sub.close(nil)
}

// Publish delivers the event to every subscriber whose filter matches the
// changed statement. Subscribers that cannot keep up are dropped.
func (f *ChangeFeed) Publish(event a2a.KnowledgeGraphChangeEvent) {
	f.mu.RLock()
	matched := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.filter == nil || sub.filter.Matches(event.Statement) {
			matched = append(matched, sub)
		}
	}
	f.mu.RUnlock()

	var dropped []*Subscription
	for _, sub := range matched {
		select {
		case sub.events <- event:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		f.mu.Lock()
		delete(f.subs, sub.ID)
		f.mu.Unlock()
		sub.close(a2a.ErrKnowledgeSubscription(errSubscriberOverflow))
	}
}

// SubscriberCount returns the number of active subscriptions.
func (f *ChangeFeed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
