package orchestrator

import "sync"

// Change tells subscribers that the layer stack or session state moved.
type Change struct {
	Reason         string   `json:"reason"`
	ObjectsVersion int      `json:"objectsVersion"`
	LayerIDs       []string `json:"layers"`
}

// EventBus is a fan-out of Change notifications. Slow subscribers miss
// events rather than block publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Change]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Change]struct{})}
}

func (b *EventBus) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (b *EventBus) Subscribe() chan Change {
	ch := make(chan Change, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it.
func (b *EventBus) Unsubscribe(ch chan Change) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
