package realtime

import (
	"sync"
	"time"
)

const (
	// Defaults match the reconnect constants used across the rest of the
	// client: 1s base doubling up to a 30s ceiling.
	DefaultRetryBase = 1 * time.Second
	DefaultRetryMax  = 30 * time.Second
)

// RetryScheduler arms a single pending callback after a capped exponential
// delay. It holds no domain state; it only manages its own timer and the
// attempt counter. At most one timer is pending at any time: Schedule
// cancels the previous one before arming the next.
type RetryScheduler struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	attempts uint
	timer    *time.Timer
}

// NewRetryScheduler creates a scheduler with the given base delay and cap.
// Non-positive values fall back to the defaults.
func NewRetryScheduler(base, max time.Duration) *RetryScheduler {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if max <= 0 {
		max = DefaultRetryMax
	}
	return &RetryScheduler{base: base, max: max}
}

// Schedule cancels any pending timer, computes min(base*2^attempts, max),
// increments the attempt counter, and arms a timer that invokes task once.
// It returns the delay that was armed. If task panics when it fires, that
// is the caller's bug to catch; the scheduler does not wrap it.
func (r *RetryScheduler) Schedule(task func()) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	d := r.delayLocked()
	r.attempts++
	r.timer = time.AfterFunc(d, task)
	return d
}

// Reset cancels any pending timer and zeroes the attempt counter.
func (r *RetryScheduler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.attempts = 0
}

// Clear cancels any pending timer but keeps the attempt counter, so backoff
// progress survives a transient teardown (e.g. the host going offline).
func (r *RetryScheduler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Attempts returns the number of schedules since the last Reset.
func (r *RetryScheduler) Attempts() uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *RetryScheduler) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *RetryScheduler) delayLocked() time.Duration {
	// Shifting past 62 bits would overflow long before the cap applies.
	if r.attempts >= 32 {
		return r.max
	}
	d := r.base << r.attempts
	if d > r.max || d <= 0 {
		return r.max
	}
	return d
}
