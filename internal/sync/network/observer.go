// Package network reports device connectivity to the sync service.
//
// Observers report raw transitions only. Debouncing, if any, belongs to the consumer.
package network

import (
	"sync"
	"time"
)

// Status is one connectivity observation.
type Status struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Observer reports the current connectivity and streams transitions.
type Observer interface {
	// Current returns the latest observation.
	Current() Status

	// Subscribe returns a channel that first receives the current status and
	// then every transition. The channel keeps only the newest unread status.
	// Call the returned func to unsubscribe; it closes the channel.
	Subscribe() (<-chan Status, func())
}

// broadcaster fans status transitions out to subscribers. Implementations
// embed it and call publish.
type broadcaster struct {
	mu      sync.Mutex
	current Status
	seen    bool
	subs    map[int]chan Status
	nextID  int
}

func newBroadcaster(initial Status) *broadcaster {
	return &broadcaster{
		current: initial,
		subs:    make(map[int]chan Status),
	}
}

// Current returns the latest observation.
func (b *broadcaster) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers a subscriber and primes it with the current status.
func (b *broadcaster) Subscribe() (<-chan Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Status, 1)
	ch <- b.current
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

// publish records an observation and notifies subscribers when the online
// flag changed. It reports whether a transition happened.
func (b *broadcaster) publish(s Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := !b.seen || s.Online != b.current.Online
	b.seen = true
	if !changed {
		return false
	}
	b.current = s

	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			// Drop the stale unread status, keep the newest.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
	return true
}

// closeAll closes every subscription channel.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
