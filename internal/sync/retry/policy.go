// Package retry holds the backoff arithmetic for queue synchronization.
// Every function is pure; callers own the clock.
package retry

import "time"

const (
	DefaultBaseDelay  = 5 * time.Second
	DefaultMaxDelay   = 10 * time.Second
	DefaultMaxRetries = 3

	// maxShift keeps BaseDelay << n inside int64.
	maxShift = 30
)

// Policy describes how failed queue items are retried.
type Policy struct {
	// BaseDelay is the delay for attempt 0; each attempt doubles it.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff. SweepDelay scales it by the failing count.
	MaxDelay time.Duration
	// MaxRetries is the number of failed attempts after which an item is failed.
	MaxRetries int
}

// DefaultPolicy returns the default retry policy (5s base, 10s cap, 3 retries).
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	return p
}

// BackoffDelay returns BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) BackoffDelay(attempt int) time.Duration {
	return capped(exponential(p.BaseDelay, attempt), p.MaxDelay)
}

// ShouldGiveUp reports whether an item with retryCount failures is exhausted.
func ShouldGiveUp(retryCount, maxRetries int) bool {
	return retryCount >= maxRetries
}

// ShouldGiveUp reports whether retryCount has reached p.MaxRetries.
func (p Policy) ShouldGiveUp(retryCount int) bool {
	return ShouldGiveUp(retryCount, p.MaxRetries)
}

// SweepDelay returns how long to wait before the next sweep when failing
// items are in the queue: BaseDelay * 2^failing, capped at MaxDelay * failing.
// The cap grows with the failing count so a total outage spaces sweeps out
// instead of hammering the backend. Zero failing items means sweep now.
func (p Policy) SweepDelay(failing int) time.Duration {
	if failing <= 0 {
		return 0
	}
	limit := time.Duration(0)
	if p.MaxDelay > 0 {
		if failing > maxShift {
			limit = p.MaxDelay * maxShift
		} else {
			limit = p.MaxDelay * time.Duration(failing)
		}
	}
	return capped(exponential(p.BaseDelay, failing), limit)
}

func exponential(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > maxShift {
		n = maxShift
	}
	return base << uint(n)
}

func capped(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
