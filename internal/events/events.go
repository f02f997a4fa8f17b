// Package events fans out sync orchestrator events to subscribers.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	SyncStart    Type = "sync-start"
	SyncProgress Type = "sync-progress"
	SyncComplete Type = "sync-complete"
	SyncError    Type = "sync-error"
	// SyncStatus is a snapshot sent to a new watcher before live events.
	SyncStatus Type = "sync-status"
)

// Event is one orchestrator notification. Fields not relevant to Type are zero.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	Total     int `json:"total,omitempty"`
	Processed int `json:"processed,omitempty"`
	Errors    int `json:"errors,omitempty"`
	Confirmed int `json:"confirmed,omitempty"`
	Failed    int `json:"failed,omitempty"`

	// LastOutcome describes the mutation just processed, e.g. "confirmed".
	LastOutcome string `json:"last_outcome,omitempty"`
	LastKey     string `json:"last_key,omitempty"`

	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Broker delivers events to every current subscriber. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends e to all subscribers. It reports how many subscribers
// dropped the event.
func (b *Broker) Publish(e Event) int {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
