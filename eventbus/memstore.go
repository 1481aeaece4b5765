package eventbus

import (
	"sync"
	"time"

	"pkt.systems/vela/schema"
)

const defaultStoreMax = 4096

// MemoryStore is a bounded in-memory EventStore. Oldest events are evicted
// first when the bound is reached.
type MemoryStore struct {
	mu     sync.Mutex
	events []schema.BrowserEvent
	max    int
}

// NewMemoryStore constructs a MemoryStore holding at most max events.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = defaultStoreMax
	}
	return &MemoryStore{max: max}
}

// Append stores the event, evicting the oldest when full.
func (s *MemoryStore) Append(event schema.BrowserEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	return nil
}

// Since returns stored events with a timestamp at or after t, in publish order.
func (s *MemoryStore) Since(t time.Time) ([]schema.BrowserEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.BrowserEvent, 0, len(s.events))
	for _, event := range s.events {
		if event.Timestamp.Before(t) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

// Len reports the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
