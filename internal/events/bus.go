// Package events fans application-wide notifications out to whoever is
// listening: mounted views over websocket, the CLI, tests.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	// DataRefreshed means every cached entry was dropped; views should re-fetch.
	DataRefreshed Type = "data_refreshed"
	// DataChanged means one resource type was written and its caches dropped.
	DataChanged Type = "data_changed"
	// Degraded means a read could not reach the API or the snapshot.
	Degraded Type = "degraded"
)

type Event struct {
	ID       string `json:"id"`
	Type     Type   `json:"type"`
	Kind     string `json:"kind,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message,omitempty"`
	// Scope, when set, limits the event to the one visitor it names.
	Scope string    `json:"scope,omitempty"`
	At    time.Time `json:"at"`
}

// For reports whether a listener with the given scope should see e. A
// listener without a scope sees only unscoped events.
func (e Event) For(scope string) bool {
	return e.Scope == "" || (scope != "" && e.Scope == scope)
}

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(e Event)
}

// Bus is an in-process broadcaster. A subscriber that does not keep up loses
// events rather than blocking the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Publish stamps e and delivers it to every subscriber.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a listener with room for buf pending events. Call the
// returned func to unsubscribe; the channel is closed afterwards.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports how many listeners are attached.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
