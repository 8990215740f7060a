package session

import (
	"sync"
	"time"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventCreated EventType = "created"
	EventTouched EventType = "touched"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
	EventCleared EventType = "cleared"
	EventPruned  EventType = "pruned"
)

// Event is published to subscribers after the store change it describes.
// Count carries the request count for created/touched and the number of
// removed rows for cleared/pruned.
type Event struct {
	Type      EventType `json:"type"`
	ToolID    string    `json:"tool_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Count     int64     `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// broker fans events out to subscriber channels. Publishing never blocks; a
// subscriber whose buffer is full misses the event.
type broker struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	next   uint64
	closed bool

	onDrop func()
}

func newBroker(onDrop func()) *broker {
	return &broker{
		subs:   make(map[uint64]chan Event),
		onDrop: onDrop,
	}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (b *broker) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
