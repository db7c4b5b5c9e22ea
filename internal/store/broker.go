package store

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each output subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// OutputEvent announces that a record has been committed for a session.
type OutputEvent struct {
	SessionID    string    `json:"session_id"`
	ProducerName string    `json:"producer_name"`
	OutputType   string    `json:"output_type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Broker fans committed-output events out to per-session subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that subscribers arriving after a
// session completes receive a closed channel instead of waiting for events
// that will never come.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan OutputEvent
	nextID int
	closed bool
}

// NewBroker creates a new output broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives events for the given session and
// an unsubscribe function. If the session has already completed, the returned
// channel is immediately closed.
func (b *Broker) Subscribe(sessionID string) (<-chan OutputEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[int]chan OutputEvent)}
		b.topics[sessionID] = t
	}

	ch := make(chan OutputEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		// Open topics with no subscribers carry no state. Closed markers stay
		// until Forget.
		if len(t.subs) == 0 && !t.closed && b.topics[sessionID] == t {
			delete(b.topics, sessionID)
		}
	}
}

// Topics returns the number of sessions the broker holds state for.
func (b *Broker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Publish delivers ev to every subscriber of ev.SessionID. Events are dropped
// for subscribers whose buffers are full.
func (b *Broker) Publish(ev OutputEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.SessionID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the topic for a session. All subscriber channels are closed and
// future Subscribe calls return a closed channel.
func (b *Broker) Close(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[sessionID]
	if !ok {
		b.topics[sessionID] = &topic{subs: make(map[int]chan OutputEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops all state for a session, including a closed marker.
// Open subscriber channels are closed first.
func (b *Broker) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[sessionID]
	if !ok {
		return
	}
	for _, ch := range t.subs {
		close(ch)
	}
	delete(b.topics, sessionID)
}
