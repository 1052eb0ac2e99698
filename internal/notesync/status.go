package notesync

import (
	"sync"
	"time"
)

// Status is the externally visible sync state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// StatusEvent is published on every sync state transition for UI collaborators.
type StatusEvent struct {
	Status    Status
	Imported  int
	Updated   int
	Exported  int
	Error     string
	Timestamp time.Time
}

// StatusBus fans status events out to subscribers. Publishing never blocks:
// a subscriber that falls behind misses intermediate events, which is fine
// because each event carries the full current state.
type StatusBus struct {
	mu   sync.Mutex
	subs map[int]chan StatusEvent
	next int
	last StatusEvent
}

// NewStatusBus creates an empty bus with status idle.
func NewStatusBus() *StatusBus {
	return &StatusBus{
		subs: make(map[int]chan StatusEvent),
		last: StatusEvent{Status: StatusIdle},
	}
}

// Subscribe registers a listener. The returned cancel function must be called
// to release the subscription.
func (b *StatusBus) Subscribe() (<-chan StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan StatusEvent, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish records the event as current and delivers it to all subscribers.
func (b *StatusBus) Publish(ev StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = ev
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Current returns the most recently published event.
func (b *StatusBus) Current() StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
