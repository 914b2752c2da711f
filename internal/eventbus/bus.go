package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bus is an in-process fan-out channel. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
	dropped     map[string]int
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
		dropped:     make(map[string]int),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		delete(b.dropped, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	// Write lock: the drop counters are mutated below.
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped[id]++
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, resourceID string, payload string, metadata map[string]string) {
	b.Publish(&Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Payload:    payload,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}

// Dropped returns how many events subscriber id has missed.
func (b *Bus) Dropped(id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[id]
}
