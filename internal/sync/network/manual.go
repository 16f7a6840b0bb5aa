package network

import "time"

// Manual is an Observer whose state is pushed by the host, for example the
// mobile shell forwarding its native connectivity callbacks over FFI.
type Manual struct {
	*broadcaster
	now func() time.Time
}

// NewManual creates a Manual observer with the given initial state.
func NewManual(online bool) *Manual {
	m := &Manual{now: time.Now}
	m.broadcaster = newBroadcaster(Status{Online: online, At: m.now()})
	m.broadcaster.seen = true
	return m
}

// Set records a new connectivity state. It reports whether it was a transition.
func (m *Manual) Set(online bool) bool {
	return m.publish(Status{Online: online, At: m.now()})
}

// Close ends every subscription.
func (m *Manual) Close() {
	m.closeAll()
}
