// Package bus fans the daemon's in-process events out to interested readers:
// conversation and message activity, directory registrations, status
// transitions, and reconciler outcomes. Publishing never blocks; a reader
// that falls behind misses events rather than stalling the publisher.
package bus

import (
	"strings"
	"sync"
)

// Bus routes events to readers filtered by kind prefix.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	readers map[int]reader
}

type reader struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{readers: make(map[int]reader)}
}

// Publish delivers evt to every reader whose prefix matches evt.Kind.
// Delivery is best effort: a reader with a full buffer loses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.readers {
		if !strings.HasPrefix(evt.Kind, r.prefix) {
			continue
		}
		select {
		case r.ch <- evt:
		default:
		}
	}
}

// Subscribe registers a reader for every kind starting with prefix; the
// empty prefix receives all traffic. bufSize is the channel buffer. The
// returned func removes the reader; events already buffered stay readable.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.readers[id] = reader{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.readers, id)
		b.mu.Unlock()
	}
}
