package sync

import (
	stdsync "sync"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

const reporterBuffer = 16

// Reporter fans sync events out to subscribers. A subscriber that falls
// behind loses its oldest unread events, never blocking the publisher.
type Reporter struct {
	mu     stdsync.Mutex
	subs   map[int]chan SyncEvent
	nextID int
}

// NewReporter creates a Reporter with no subscribers.
func NewReporter() *Reporter {
	return &Reporter{subs: make(map[int]chan SyncEvent)}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (r *Reporter) Subscribe() (<-chan SyncEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	ch := make(chan SyncEvent, reporterBuffer)
	r.subs[id] = ch

	var once stdsync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber.
func (r *Reporter) Publish(ev SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, ch := range r.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
		logging.Debug("Status subscriber lagging, dropped oldest event", map[string]interface{}{
			"subscriber": id,
		})
	}
}

// Close ends every current subscription. New subscriptions may still be made.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of active subscriptions.
func (r *Reporter) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
